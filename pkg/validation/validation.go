package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// MessageTypeRegex validates live feed envelope types
	MessageTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		// report wire names (json tags) instead of Go field names
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return instance
}

// Struct validates v against its `validate` tags. The error lists every
// failing field by wire name, e.g. "originLat: failed latitude".
func Struct(v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fieldPath(fe), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Slice validates every element of items, prefixing failures with the
// element index.
func Slice[T any](items []T) error {
	for i := range items {
		if err := Struct(&items[i]); err != nil {
			return fmt.Errorf("[%d] %w", i, err)
		}
	}
	return nil
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// ValidateMessageType validates a live feed envelope type
func ValidateMessageType(msgType string) error {
	if msgType == "" {
		return fmt.Errorf("message type is required")
	}
	if !MessageTypeRegex.MatchString(msgType) {
		return fmt.Errorf("invalid message type format")
	}
	return nil
}

// ValidateURL validates URL format. schemes restricts the accepted schemes
// and defaults to http, https, ws and wss.
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https", "ws", "wss"}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("invalid URL scheme (must be %s)", strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
