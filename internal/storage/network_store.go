package storage

import (
	"fmt"
	"path/filepath"

	"github.com/csells/vide-cli-sub001/pkg/vide"
)

// NetworkStore persists AgentNetwork documents one file per network
// under <configRoot>/projects/<encodedProjectPath>/networks/<id>.json
// (spec §4.H persist(), §6).
type NetworkStore struct {
	configRoot  string
	projectPath string
}

// NewNetworkStore builds a store rooted at configRoot for the given
// absolute project path.
func NewNetworkStore(configRoot, projectPath string) *NetworkStore {
	return &NetworkStore{configRoot: configRoot, projectPath: projectPath}
}

func (s *NetworkStore) dir() string {
	return filepath.Join(s.configRoot, "projects", EncodeProjectPath(s.projectPath), "networks")
}

func (s *NetworkStore) path(networkID string) string {
	return filepath.Join(s.dir(), networkID+".json")
}

// Save atomically writes network to its own file.
func (s *NetworkStore) Save(network vide.AgentNetwork) error {
	if network.ID == "" {
		return fmt.Errorf("cannot persist a network with an empty id")
	}
	return writeJSONAtomic(s.path(network.ID), network)
}

// Load reads one network document, found=false if it does not exist.
func (s *NetworkStore) Load(networkID string) (vide.AgentNetwork, bool, error) {
	var network vide.AgentNetwork
	found, err := readJSON(s.path(networkID), &network)
	return network, found, err
}

// List enumerates every persisted network id for this project.
func (s *NetworkStore) List() ([]string, error) {
	entries, err := readDirJSONStems(s.dir())
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return entries, nil
}
