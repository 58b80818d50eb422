package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/nimbusdl/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID is the schema identifier for job manifests.
const SchemaID = "nimbusdl/v1.0.0/job-manifest"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema file could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/source/bucket").
	Path string

	// Message describes the validation failure.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	lines := make([]string, len(e))
	for i, err := range e {
		lines[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("manifest validation failed with %d errors:\n%s", len(e), strings.Join(lines, "\n"))
}

// Unwrap makes errors.Is(err, ErrValidationFailed) hold.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks the manifest against the JSON schema and then applies the
// cross-field rules the schema cannot express.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}

	if err := ValidateRaw(data); err != nil {
		return err
	}
	return checkFields(m)
}

// checkFields enforces provider-specific requirements.
func checkFields(m *Manifest) error {
	var errs ValidationErrors

	switch m.Connection.Provider {
	case "blob":
		if m.Connection.BaseURL == "" {
			errs = append(errs, ValidationError{Path: "/connection/base_url", Message: "required for the blob provider"})
		}
	case "minio":
		if m.Connection.Endpoint == "" {
			errs = append(errs, ValidationError{Path: "/connection/endpoint", Message: "required for the minio provider"})
		}
	}
	if m.Connection.BaseURL != "" && m.Connection.Provider != "blob" {
		errs = append(errs, ValidationError{Path: "/connection/base_url", Message: "only valid for the blob provider"})
	}
	if _, err := m.Download.Delay(); err != nil {
		errs = append(errs, ValidationError{Path: "/download/retry_delay", Message: err.Error()})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateRaw checks a JSON document against the embedded manifest schema.
// Unlike Validate it sees fields the Manifest struct does not know.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// getValidator compiles the embedded schema on first use.
func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.JobManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded job-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.JobManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
