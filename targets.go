package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"machtest/machine"
)

// targetsFile is the optional --config document: named target machines so
// operators do not have to repeat coordinates on every invocation.
//
//	targets:
//	  default:
//	    address: 10.0.0.7
//	    port: 22
//	    user: admin
//	    identity: ~/.ssh/test_machine
type targetsFile struct {
	Targets map[string]machine.Target `yaml:"targets"`
}

func loadTargets(path string) (map[string]machine.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc targetsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(doc.Targets) == 0 {
		return nil, fmt.Errorf("config %s defines no targets", path)
	}
	return doc.Targets, nil
}
