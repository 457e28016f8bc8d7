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
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// A node in our configuration tree.
//
// Nodes with a fragment hold the registered configuration data. Other
// nodes only link fragments together according to their dotted paths.
// A node can have both a fragment and children, in which case the keys
// of its data that name a child are routed to that child.
type node struct {
	path     Path
	ptr      Fragment
	notify   []NotifyFn
	children map[string]*node
}

func newNode(path Path, ptr Fragment) *node {
	return &node{
		path:     path.Clone(),
		ptr:      ptr,
		children: map[string]*node{},
	}
}

func (n *node) add(path Path, ptr Fragment) (*node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	p := n
	for idx, name := range path {
		c, ok := p.children[name]
		if !ok {
			if conflict := p.conflictingChild(name); conflict != "" {
				return nil, fmt.Errorf("name %q conflicts with %q", name, conflict)
			}
			c = newNode(path.Sub(0, idx+1), nil)
			p.children[name] = c
		}
		p = c
	}

	if p.ptr != nil {
		return nil, fmt.Errorf("conflict with %q %T", p.path.String(), p.ptr)
	}
	p.ptr = ptr

	return p, nil
}

// conflictingChild returns any existing child name equal to name ignoring case.
func (n *node) conflictingChild(name string) string {
	for c := range n.children {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return ""
}

func (n *node) get(path string) *node {
	p := n
	for _, name := range makePath(path) {
		c, ok := p.children[name]
		if !ok {
			return nil
		}
		p = c
	}
	return p
}

func (n *node) hasChild(name string) bool {
	_, ok := n.children[name]
	return ok
}

// apply resets the subtree and sets it from the given data.
func (n *node) apply(data Data) error {
	if data == nil {
		data = make(Data)
	}
	mod, sub := data.split(n.hasChild)

	if n.ptr != nil {
		n.ptr.Reset()
		if len(mod) > 0 {
			raw, err := yaml.Marshal(mod)
			if err != nil {
				return fmt.Errorf("%q: %w", n.path.String(), err)
			}
			if err := yaml.UnmarshalStrict(raw, n.ptr); err != nil {
				return fmt.Errorf("%q: %w", n.path.String(), err)
			}
		}
	} else if len(mod) > 0 {
		return fmt.Errorf("%q: unknown configuration keys %s", n.path.String(),
			strings.Join(mod.keys(), ","))
	}

	for _, name := range n.childNames() {
		cd, err := sub.pick(name, true)
		if err != nil {
			return err
		}
		if err := n.children[name].apply(cd); err != nil {
			return err
		}
	}

	if len(sub) > 0 {
		return fmt.Errorf("%q: unknown configuration keys %s", n.path.String(),
			strings.Join(sub.keys(), ","))
	}

	return nil
}

// backup takes a raw snapshot of every fragment in the subtree.
func (n *node) backup() (map[string][]byte, error) {
	snapshot := map[string][]byte{}
	err := n.depthFirst(func(c *node, _ int) error {
		if c.ptr == nil {
			return nil
		}
		raw, err := yaml.Marshal(c.ptr)
		if err != nil {
			return configError("failed to back up %q: %v", c.path.String(), err)
		}
		snapshot[c.path.String()] = raw
		return nil
	})
	return snapshot, err
}

// restore restores a snapshot taken by backup.
func (n *node) restore(snapshot map[string][]byte) error {
	return n.depthFirst(func(c *node, _ int) error {
		raw, ok := snapshot[c.path.String()]
		if !ok || c.ptr == nil {
			return nil
		}
		c.ptr.Reset()
		return yaml.Unmarshal(raw, c.ptr)
	})
}

// collect gathers the subtree into nested configuration data.
func (n *node) collect() (Data, error) {
	data := make(Data)
	if n.ptr != nil {
		d, err := DataFromObject(n.ptr)
		if err != nil {
			return nil, err
		}
		data = d
	}
	for name, c := range n.children {
		d, err := c.collect()
		if err != nil {
			return nil, err
		}
		if len(d) > 0 {
			data[name] = d
		}
	}
	return data, nil
}

func (n *node) reset() {
	n.depthFirst(func(c *node, _ int) error {
		if c.ptr != nil {
			c.ptr.Reset()
		}
		return nil
	})
}

func (n *node) childNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *node) depthFirst(fn func(*node, int) error) error {
	if n == nil {
		return nil
	}
	return n.dfWalk(fn, 0)
}

func (n *node) dfWalk(fn func(*node, int) error, level int) error {
	for _, name := range n.childNames() {
		if err := n.children[name].dfWalk(fn, level+1); err != nil {
			return err
		}
	}
	return fn(n, level)
}

func (n *node) breadthFirst(fn func(*node, int) error) error {
	if n == nil {
		return nil
	}
	return n.bfWalk(fn, 0)
}

func (n *node) bfWalk(fn func(*node, int) error, level int) error {
	if err := fn(n, level); err != nil {
		return err
	}
	for _, name := range n.childNames() {
		if err := n.children[name].bfWalk(fn, level+1); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) dump(level int, dumpData bool) string {
	str := ""

	if n.ptr != nil {
		str = fmt.Sprintf("%s%T", indent(level), n.ptr)
		if dumpData {
			data, err := yaml.Marshal(n.ptr)
			if err != nil {
				str += fmt.Sprintf("\n%s| failed to marshal data (%v)\n", indent(level+2), err)
			} else {
				for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
					str += fmt.Sprintf("\n%s| %s", indent(level+2), line)
				}
			}
		}
		str += "\n"
	}

	for _, name := range n.childNames() {
		str += fmt.Sprintf("%s%s:\n", indent(level), name)
		str += n.children[name].dump(level+2, dumpData)
	}

	return str
}

func (n *node) describe() string {
	str := ""
	n.breadthFirst(func(p *node, level int) error {
		if p.ptr != nil {
			str += indent(level) + p.path.String() + ": " + p.ptr.Describe() + "\n"
		}
		return nil
	})
	return str
}

func indent(level int) string {
	return fmt.Sprintf("%*s", level, "")
}

const (
	pathSep = "."
)

// Path is the dotted location of a fragment in the configuration tree.
type Path []string

func makePath(s string) Path {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, pathSep)
}

// Validate checks that the path has no empty elements.
func (p Path) Validate() error {
	if p.Len() == 0 {
		return fmt.Errorf("empty path")
	}
	for _, name := range p {
		if name == "" {
			return fmt.Errorf("invalid path %q, has empty name", p.String())
		}
	}
	return nil
}

func (p Path) String() string {
	return strings.Join(p, pathSep)
}

// Clone returns a copy of the path.
func (p Path) Clone() Path {
	c := make([]string, p.Len())
	copy(c, p)
	return Path(c)
}

// Sub returns the given slice of the path.
func (p Path) Sub(beg, end int) Path {
	return Path(p[beg:end])
}

// Len returns the number of elements in the path.
func (p Path) Len() int {
	return len(p)
}
