// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Fragment is a piece of configuration registered under a path.
type Fragment interface {
	// Reset resets the fragment to its default values.
	Reset()
	// Describe returns a human-readable description of the fragment.
	Describe() string
}

// FragmentValidator is a Fragment that can check its own consistency.
type FragmentValidator interface {
	Validate() error
}

// NotifyFn is called after a configuration update has been accepted.
type NotifyFn func() error

// Option is an optional registration parameter.
type Option func(*node)

// WithNotify attaches an update notification callback to a fragment.
func WithNotify(fn NotifyFn) Option {
	return func(n *node) {
		n.notify = append(n.notify, fn)
	}
}

var (
	lock sync.RWMutex
	root = newNode(Path{}, nil)
)

// Register registers a configuration fragment under the given dotted path.
func Register(path string, ptr interface{}, opts ...Option) error {
	if ptr == nil {
		return configError("can't register nil fragment for %q", path)
	}
	t := reflect.TypeOf(ptr)
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return configError("can't register %q, %T is not a pointer to struct", path, ptr)
	}
	f, ok := ptr.(Fragment)
	if !ok {
		return configError("can't register %q, %T does not implement Fragment", path, ptr)
	}
	if path == "" {
		return configError("can't register %T with an empty path", ptr)
	}

	lock.Lock()
	defer lock.Unlock()

	n, err := root.add(makePath(path), f)
	if err != nil {
		return configError("failed to register %q: %v", path, err)
	}
	for _, o := range opts {
		o(n)
	}
	f.Reset()

	log.Debug("registered configuration fragment %q (%T)", path, ptr)

	return nil
}

// MustRegister registers a configuration fragment, panicking on failure.
func MustRegister(path string, ptr interface{}, opts ...Option) {
	if err := Register(path, ptr, opts...); err != nil {
		panic(err)
	}
}

// ReInitialize drops all registered fragments.
func ReInitialize() {
	lock.Lock()
	defer lock.Unlock()
	root = newNode(Path{}, nil)
}

// SetYAML resets all fragments and then updates them from the given YAML data.
// If any fragment rejects the data, the previous configuration is restored.
func SetYAML(raw []byte) error {
	data, err := parseData(raw, "YAML")
	if err != nil {
		return err
	}
	return SetData(data)
}

// SetYAMLFile updates the configuration from the given YAML file.
func SetYAMLFile(path string) error {
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return SetData(data)
}

// SetData updates the configuration from already parsed data.
func SetData(data Data) error {
	lock.Lock()
	backup, err := root.backup()
	if err != nil {
		lock.Unlock()
		return err
	}

	if err = root.apply(data.copy()); err == nil {
		err = root.validate()
	}
	if err != nil {
		if rerr := root.restore(backup); rerr != nil {
			log.Error("failed to restore configuration: %v", rerr)
		}
		lock.Unlock()
		return configError("configuration rejected: %v", err)
	}
	lock.Unlock()

	lock.RLock()
	defer lock.RUnlock()
	return root.notifyAll()
}

// GetYAML returns the current configuration as YAML.
func GetYAML() ([]byte, error) {
	lock.RLock()
	defer lock.RUnlock()

	data, err := root.collect()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(data)
}

// Reset resets all registered fragments to their defaults.
func Reset() {
	lock.Lock()
	defer lock.Unlock()
	root.reset()
}

// Validate checks all fragments implementing FragmentValidator.
func Validate() error {
	lock.RLock()
	defer lock.RUnlock()
	return root.validate()
}

// Describe returns a description of all registered fragments.
func Describe() string {
	lock.RLock()
	defer lock.RUnlock()
	return root.describe()
}

// Dump returns a dump of the configuration tree, optionally with data.
func Dump(withData bool) string {
	lock.RLock()
	defer lock.RUnlock()
	return root.dump(0, withData)
}

// GetConfig returns the fragment registered for the given path.
func GetConfig(path string) (Fragment, bool) {
	lock.RLock()
	defer lock.RUnlock()

	n := root.get(path)
	if n == nil || n.ptr == nil {
		return nil, false
	}
	return n.ptr, true
}

// validate walks the tree collecting all validation errors.
func (n *node) validate() error {
	var errors *multierror.Error

	n.depthFirst(func(c *node, _ int) error {
		if v, ok := c.ptr.(FragmentValidator); ok {
			if err := v.Validate(); err != nil {
				errors = multierror.Append(errors, fmt.Errorf("%q: %w", c.path.String(), err))
			}
		}
		return nil
	})

	return errors.ErrorOrNil()
}

// notifyAll runs all registered notifiers, collecting errors.
func (n *node) notifyAll() error {
	var errors *multierror.Error

	n.breadthFirst(func(c *node, _ int) error {
		for _, fn := range c.notify {
			if err := fn(); err != nil {
				errors = multierror.Append(errors, fmt.Errorf("%q: %w", c.path.String(), err))
			}
		}
		return nil
	})

	return errors.ErrorOrNil()
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
