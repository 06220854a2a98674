package devnode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// deploymentFile is the subset of a hardhat-deploy artifact we read.
type deploymentFile struct {
	Address string `json:"address"`
}

// LoadDeployments reads a hardhat-deploy network directory
// (deployments/<network>/<Name>.json) into a name to address map.
// Subdirectories such as solcInputs and dotfiles are skipped.
func LoadDeployments(dir string) (map[string]common.Address, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read deployments dir: %w", err)
	}

	out := make(map[string]common.Address)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read deployment %s: %w", e.Name(), err)
		}

		var df deploymentFile
		if err := json.Unmarshal(data, &df); err != nil {
			return nil, fmt.Errorf("parse deployment %s: %w", e.Name(), err)
		}
		if !common.IsHexAddress(df.Address) {
			return nil, fmt.Errorf("deployment %s: invalid address %q", e.Name(), df.Address)
		}
		out[strings.TrimSuffix(e.Name(), ".json")] = common.HexToAddress(df.Address)
	}
	return out, nil
}
