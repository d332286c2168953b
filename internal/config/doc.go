// Package config provides configuration for the vstore benchmark command.
//
// A run starts from a named profile (fast, standard or stress). A file in
// JSON, TOML or YAML may override any field, and command-line flags are
// applied last through Apply.
//
// # Configuration File Structure
//
//	profile: standard
//	writers: 32
//	duration: 45s
//	strategy: spin
//	mem_limit: 1GiB
//	metrics:
//	  enabled: true
//	  addr: 127.0.0.1:9464
//	log:
//	  level: debug
//	  format: json
//
// # Usage
//
//	cfg, err := config.LoadFile("bench.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = cfg.Apply(map[string]any{"writers": "8"})
package config
