package app

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

var (
	ctorMu sync.Mutex
	ctors  = make(map[string]FileLoaderCtor)
)

func init() {
	RegisterFileLoaderCtor("", newLocalLoader)
	RegisterFileLoaderCtor("file", newLocalLoader)
	RegisterFileLoaderCtor("env", newEnvLoader)
}

// RegisterFileLoaderCtor registers a FileLoader for the specified scheme.
func RegisterFileLoaderCtor(scheme string, ctr FileLoaderCtor) {
	ctorMu.Lock()
	defer ctorMu.Unlock()

	_, exists := ctors[scheme]
	if exists {
		panic(fmt.Sprintf("FileLoader already registered for scheme '%s'", scheme))
	}

	ctors[scheme] = ctr
}

// FileLoaderCtor constructs a FileLoader.
type FileLoaderCtor func() (FileLoader, error)

// FileLoader loads files at a specified URL.
type FileLoader interface {
	Load(url *url.URL) ([]byte, error)
}

// LoadFile loads a file at the specified URL using the corresponding
// registered FileLoader. If no scheme is specified, the local filesystem is
// used.
func LoadFile(fileURL string) ([]byte, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid file url %s", fileURL)
	}

	ctorMu.Lock()
	ctr, exists := ctors[u.Scheme]
	ctorMu.Unlock()
	if !exists {
		return nil, errors.Errorf("no file loader for %s", u.Scheme)
	}

	l, err := ctr()
	if err != nil {
		return nil, errors.Wrapf(err, "failed get loader for '%s'", fileURL)
	}

	return l.Load(u)
}

type localLoader struct{}

func newLocalLoader() (FileLoader, error) {
	return &localLoader{}, nil
}

// Load reads file:///abs/path, file://rel/path and bare paths.
func (l *localLoader) Load(u *url.URL) ([]byte, error) {
	path := u.Path
	if len(u.Host) > 0 {
		path = filepath.Join(u.Host, u.Path)
	}
	if len(path) == 0 {
		path = u.Opaque
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	return data, nil
}

type envLoader struct{}

func newEnvLoader() (FileLoader, error) {
	return &envLoader{}, nil
}

// Load reads the base64 encoded contents of an environment variable named by
// env://NAME. Binary archives can't be stored in the environment verbatim.
func (l *envLoader) Load(u *url.URL) ([]byte, error) {
	name := u.Host
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, errors.Errorf("environment variable %s is not set", name)
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Wrapf(err, "environment variable %s is not base64", name)
	}
	return data, nil
}
