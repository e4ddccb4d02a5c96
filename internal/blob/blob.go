package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no object exists at a location
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidLocation is returned for locations that can never address an object
	ErrInvalidLocation = errors.New("invalid blob location")
)

// MetaOriginalFilename is the metadata key carrying the uploader's file name
const MetaOriginalFilename = "original_filename"

// Location addresses an object as container + key
type Location struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// ParseLocation parses the "<container>/<key>" wire form
func ParseLocation(s string) (Location, error) {
	s = strings.TrimLeft(strings.TrimSpace(s), "/")
	container, key, ok := strings.Cut(s, "/")
	if !ok || container == "" || key == "" {
		return Location{}, fmt.Errorf("%w %q: expected <container>/<key>", ErrInvalidLocation, s)
	}
	loc := Location{Container: container, Key: key}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// String returns the "<container>/<key>" wire form
func (l Location) String() string {
	return l.Container + "/" + l.Key
}

// IsZero reports whether either part of the location is missing
func (l Location) IsZero() bool {
	return strings.TrimSpace(l.Container) == "" || strings.TrimSpace(l.Key) == ""
}

// Validate rejects incomplete locations and keys that escape their container
func (l Location) Validate() error {
	if l.IsZero() {
		return fmt.Errorf("%w %q: expected <container>/<key>", ErrInvalidLocation, l.String())
	}
	if l.Container == "." || l.Container == ".." || strings.ContainsAny(l.Container, `/\`) {
		return fmt.Errorf("%w %q: bad container", ErrInvalidLocation, l.String())
	}
	if strings.HasPrefix(l.Key, "/") || strings.HasPrefix(l.Key, `\`) {
		return fmt.Errorf("%w %q: absolute key", ErrInvalidLocation, l.String())
	}
	segments := strings.FieldsFunc(l.Key, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segments {
		if seg == ".." {
			return fmt.Errorf("%w %q: key leaves its container", ErrInvalidLocation, l.String())
		}
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Location) UnmarshalText(b []byte) error {
	loc, err := ParseLocation(string(b))
	if err != nil {
		return err
	}
	*l = loc
	return nil
}

// Store defines the interface for raw document storage
type Store interface {
	// Put stores data at loc, replacing any previous object
	Put(ctx context.Context, loc Location, data []byte, meta map[string]string) (Location, error)

	// Get retrieves the object at loc. Missing objects return ErrNotFound.
	Get(ctx context.Context, loc Location) ([]byte, error)

	// Delete removes the object at loc and reports whether it existed
	Delete(ctx context.Context, loc Location) (bool, error)
}

// Signer issues short-lived credentials for direct uploads
type Signer interface {
	SignUploadURL(loc Location, ttl time.Duration) (string, error)
}
