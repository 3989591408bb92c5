// Package config loads the agent configuration and MySQL service descriptors.
//
// The agent configuration is YAML. Descriptors may be written as YAML
// (one or more documents), JSON (an object or an array), CUE or HCL. CUE
// files declare instances under mysql_service keyed by name and are unified
// with a built-in schema before decoding:
//
//	mysql_service: app1: {
//		version:  "5.7"
//		data_dir: "/data/app1"
//		port:     3307
//	}
//
// HCL files use one labelled block per instance:
//
//	mysql_service "app1" {
//	  data_dir = "/data/app1"
//	  port     = 3307
//	}
//
// Loading only decodes; defaults and validation are applied by the provider.
package config
