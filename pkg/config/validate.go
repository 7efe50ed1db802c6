package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their config key, not the Go name.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("host_port", isHostPort)
	})
	return validate
}

// isHostPort accepts host:port with an optional host and a port in 0..65535.
// Port 0 is allowed so listeners and local binds can pick a free port.
func isHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	_, err = strconv.ParseUint(port, 10, 16)
	return err == nil
}

// Validate checks cfg for structural and semantic errors.
//
// It should run after ApplyDefaults: a few fields (family, variant) are only
// checked in their normalized form.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if _, err := transport.ParseFamily(cfg.Transport.Family); err != nil {
		return fmt.Errorf("transport.family: %w", err)
	}
	if _, err := nbt.ParseLengthVariant(cfg.Transport.NBT.Variant); err != nil {
		return fmt.Errorf("transport.nbt.variant: %w", err)
	}
	if cfg.Transport.SendSize == 0 || cfg.Transport.ReceiveSize == 0 {
		return errors.New("transport: send_size and receive_size must be positive")
	}
	rc := cfg.Session.Reconnect
	if rc.MaxInterval > 0 && rc.MaxInterval < rc.InitialInterval {
		return fmt.Errorf("session.reconnect: max_interval %s is below initial_interval %s",
			rc.MaxInterval, rc.InitialInterval)
	}
	return nil
}

// formatValidationErrors joins validator errors into one readable error,
// e.g. "transport.qos: failed 'lte' (255)".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.transport.qos"; drop the root type.
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msg := fmt.Sprintf("%s: failed '%s'", ns, fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
