package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	btcrpc "github.com/TEENet-io/spv-bridge/btcman/rpc"
	"github.com/TEENet-io/spv-bridge/common"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// InitializeViper reads filePath (any format viper knows from the extension)
// and lets environment variables override it.
func InitializeViper(filePath string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if filePath == "" {
		return v, nil
	}
	if !FileExists(filePath) {
		return nil, fmt.Errorf("configuration file not found: %s", filePath)
	}
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	return v, nil
}

// Shared Helper function. Create a btc rpc client.
func SetupBtcRpc(server string, port string, username string, password string) (*btcrpc.RpcClient, error) {
	_config := btcrpc.RpcClientConfig{
		ServerAddr: server,
		Port:       port,
		Username:   username,
		Pwd:        password,
	}
	r, err := btcrpc.NewRpcClient(&_config)
	if err != nil {
		return nil, fmt.Errorf("failed to create btc rpc client: %w", err)
	}
	return r, nil
}

// DecodeHex is common.DecodeHex with the value's name in the error.
func DecodeHex(name string, s string, n int) ([]byte, error) {
	b, err := common.DecodeHex(s, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
