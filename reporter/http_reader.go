// Reader is a facility to read the output of a http reporter,
// the CLI uses it to ask a running maintainer.

package reporter

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
	client     *http.Client
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (hr *HttpReader) get(route string) (string, error) {
	url := "http://" + hr.serverIP + ":" + hr.serverPort + route

	resp, err := hr.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read the response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return string(body), fmt.Errorf("GET %s: status %d", route, resp.StatusCode)
	}

	// Convert the body to a string
	return string(body), nil
}

func (hr *HttpReader) GetHello() (string, error) {
	return hr.get(ROUTE_HELLO)
}

func (hr *HttpReader) GetSweep(txid string) (string, error) {
	return hr.get(ROUTE_SWEEPS + "/" + txid)
}

// GetSweeps lists entries in status, or the latest ones if status is "".
func (hr *HttpReader) GetSweeps(status string) (string, error) {
	if status == "" {
		return hr.get(ROUTE_SWEEPS)
	}
	return hr.get(ROUTE_SWEEPS + "?status=" + status)
}
