// Package log builds the zap logger shared by every service in the control plane.
package log

import "go.uber.org/zap"

// New builds a production logger outside "dev"/"test" environments and a
// development logger (colorized, caller-annotated) inside them.
func New(env string) (*zap.Logger, error) {
	switch env {
	case "dev", "test", "":
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	default:
		cfg := zap.NewProductionConfig()
		return cfg.Build()
	}
}
