package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg and the cross-field rules tags
// cannot express. Every failing field is reported.
func Validate(cfg *Config) error {
	var msgs []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		}
	}

	if cfg.Pool.Kind == "arena" && cfg.Pool.Size == 0 {
		msgs = append(msgs, "Config.Pool.Size: arena pool needs a size")
	}
	if _, err := ncio.ParseType(cfg.Job.Type); err != nil {
		msgs = append(msgs, fmt.Sprintf("Config.Job.Type: %v", err))
	}
	if _, err := ncio.ParseIOType(cfg.Job.Mode); err != nil {
		msgs = append(msgs, fmt.Sprintf("Config.Job.Mode: %v", err))
	}
	if _, err := decomp.ParseKind(cfg.Job.Rearranger); err != nil {
		msgs = append(msgs, fmt.Sprintf("Config.Job.Rearranger: %v", err))
	}

	if len(msgs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return nil
}
