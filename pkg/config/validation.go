package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Declarative validation comes from go-playground/validator struct tags;
// rules that cannot be expressed in tags are checked here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Roots) == 0 {
		return fmt.Errorf("roots: at least one storage root must be configured")
	}

	names := make(map[string]bool)
	for i, root := range cfg.Roots {
		if names[root.Name] {
			return fmt.Errorf("roots[%d]: duplicate root name %q", i, root.Name)
		}
		names[root.Name] = true

		// The protocol-specific section must carry its one required key.
		switch root.Protocol {
		case "local":
			if v, _ := root.Local["path"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: local.path is required", i, root.Name)
			}
		case "smb":
			if v, _ := root.SMB["host"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: smb.host is required", i, root.Name)
			}
			if v, _ := root.SMB["share"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: smb.share is required", i, root.Name)
			}
		case "ftp":
			if v, _ := root.FTP["host"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: ftp.host is required", i, root.Name)
			}
		case "nfs":
			if v, _ := root.NFS["mount"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: nfs.mount is required", i, root.Name)
			}
		case "webdav":
			if v, _ := root.WebDAV["url"].(string); v == "" {
				return fmt.Errorf("roots[%d] %q: webdav.url is required", i, root.Name)
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
