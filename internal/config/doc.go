// Package config provides loading and environment overlay for spotsync
// client and relay configuration. It exposes a Default() baseline, file
// loading (JSON or YAML), .env support and SPOTSYNC_* overrides.
//
// Example:
//
//	_ = config.LoadDotEnv(".env")
//	cfg, err := config.Load("spotsync.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
