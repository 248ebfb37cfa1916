// Package config loads stash configuration from a YAML file, STASH_*
// environment variables and built-in defaults using viper.
//
// A minimal file:
//
//	data_dir: /var/lib/stash
//	scheduler:
//	  max_concurrent: 2
//	redis:
//	  addr: localhost:6379
//	default_backend:
//	  type: disc
//	  options:
//	    path: /var/lib/stash/storage
//	modules:
//	  - name: files
//	    domains: [room]
//	  - name: mail
//	    domains: [attach]
//
// Nested keys map to environment variables with dots replaced by underscores,
// e.g. STASH_SCHEDULER_MAX_CONCURRENT=4.
package config
