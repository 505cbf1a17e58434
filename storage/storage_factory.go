package storage

import (
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// S3Options holds object storage settings. They are never read from the
// destination URL.
type S3Options struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access-key"`
	SecretKey      string `yaml:"secret-key"`
	ForcePathStyle bool   `yaml:"force-path-style"`
}

// Options are passed to the backend selected by Open.
type Options struct {
	S3     S3Options
	Logger *log.Logger
}

// Factory builds a backend for destinations with a given URL scheme.
type Factory interface {
	Name() string
	Build(dest *url.URL, opts Options) (FS, error)
}

// LocalScheme is the scheme used for destinations given as plain paths.
const LocalScheme = "file"

// This layer of indirection allows backends to be compiled in or out, the
// same way database/sql drivers are registered.
var factories = make(map[string]Factory)

// Register installs a backend for scheme.
func Register(scheme string, factory Factory) {
	factories[scheme] = factory
}

// Schemes returns the registered schemes, sorted.
func Schemes() []string {
	schemes := make([]string, 0, len(factories))
	for s := range factories {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// ParseDestination splits a destination into a URL. Plain paths, including
// Windows drive paths, become file URLs.
func ParseDestination(dest string) (*url.URL, error) {
	if strings.TrimSpace(dest) == "" {
		return nil, fmt.Errorf("storage destination is empty")
	}
	u, err := url.Parse(dest)
	if err != nil || len(u.Scheme) <= 1 {
		return &url.URL{Scheme: LocalScheme, Path: dest}, nil
	}
	if u.Scheme == LocalScheme && u.Path == "" {
		u.Path = u.Opaque
	}
	return u, nil
}

// Open returns the backend registered for the destination's scheme.
func Open(dest string, opts Options) (FS, error) {
	u, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	factory, ok := factories[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w %q, registered: %s", ErrUnknownScheme, u.Scheme, strings.Join(Schemes(), ", "))
	}
	if opts.Logger == nil {
		opts.Logger = log.New()
	}
	return factory.Build(u, opts)
}
