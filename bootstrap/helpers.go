package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"argus/config"

	"go.uber.org/zap"
)

// CheckPaths verifies that configured rule directories are directories and
// that file sources are readable before anything is loaded.
func CheckPaths(cfg *config.Config, sugar *zap.SugaredLogger) error {
	var errs []error
	for _, dir := range []struct{ key, path string }{
		{"rules.native_dir", cfg.Rules.NativeDir},
		{"rules.sigma_dir", cfg.Rules.SigmaDir},
	} {
		if dir.path == "" {
			continue
		}
		info, err := os.Stat(dir.path)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w\n"+
				"  Remediation: create the directory or unset %s", dir.key, err, dir.key))
		case !info.IsDir():
			errs = append(errs, fmt.Errorf("%s: %s is not a directory", dir.key, dir.path))
		default:
			sugar.Debugw("Rule directory ready", "key", dir.key, "path", dir.path)
		}
	}

	for i, src := range cfg.Datasets.Sources {
		if src.Path == "" {
			continue
		}
		f, err := os.Open(src.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("datasets.sources[%d] (%s): %w\n"+
				"  Remediation: check the path and that the file is readable by this user", i, src.Kind, err))
			continue
		}
		f.Close()
	}
	return errors.Join(errs...)
}

// ClassifyConnectionError provides specific error messages based on the type
// of Redis connection failure.
func ClassifyConnectionError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  - Redis is overloaded\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", addr, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			(opErr.Err != nil && containsIgnoreCase(opErr.Err.Error(), "connection refused")) {
			return fmt.Sprintf("Connection refused by Redis at %s.\n"+
				"  This usually means Redis is not running.\n"+
				"  Remediation:\n"+
				"  - Start Redis: docker compose up -d redis\n"+
				"  - Verify correlation.redis.addr", addr)
		}
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in Redis address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", addr)
	}

	if containsIgnoreCase(errStr, "noauth") || containsIgnoreCase(errStr, "wrongpass") || containsIgnoreCase(errStr, "password") {
		return fmt.Sprintf("Authentication failed for Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Verify correlation.redis.password\n"+
			"  - Check ARGUS_CORRELATION_REDIS_PASSWORD", addr)
	}

	return fmt.Sprintf("Failed to connect to Redis at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure Redis is running and accessible\n"+
		"  - Or switch correlation.backend to memory", addr, err)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
