// Copyright 2019 Intel Corporation. All Rights Reserved.
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
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// Data is configuration data as unmarshalled from YAML. Keys are either
// fragment field names, child names, or dotted paths ("livesave.maxPasses")
// addressing a field of a descendant directly.
type Data map[string]interface{}

// parseData unmarshals raw YAML into configuration data.
func parseData(raw []byte, origin string) (Data, error) {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, configError("failed to parse configuration from %s: %v", origin, err)
	}
	return data, nil
}

// DataFromObject remarshals the given object into configuration data.
func DataFromObject(obj interface{}) (Data, error) {
	raw, err := yaml.Marshal(obj)
	if err != nil {
		return nil, configError("failed to marshal %T: %v", obj, err)
	}
	return parseData(raw, fmt.Sprintf("%T", obj))
}

// DataFromFile reads configuration data from the given YAML file.
func DataFromFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read %q: %v", path, err)
	}
	return parseData(raw, "file "+path)
}

// copy returns a shallow copy of the data.
func (d Data) copy() Data {
	c := make(Data, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// dottedHead splits the first component off a dotted key.
func dottedHead(key string) (string, string, bool) {
	split := strings.SplitN(key, ".", 2)
	if len(split) != 2 {
		return key, "", false
	}
	return split[0], split[1], true
}

// split separates data for the fragment of a node from data for its children.
func (d Data) split(hasChild func(string) bool) (Data, Data) {
	own, children := make(Data), make(Data)
	for k, v := range d {
		if _, _, dotted := dottedHead(k); dotted || hasChild(k) {
			children[k] = v
		} else {
			own[k] = v
		}
	}
	return own, children
}

// pick collects the data for the named child, both nested under its name
// and given as dotted keys, optionally removing what was picked.
func (d Data) pick(name string, remove bool) (Data, error) {
	var picked Data

	if nested, ok := d[name]; ok {
		data, err := DataFromObject(nested)
		if err != nil {
			return nil, err
		}
		picked = data
		if remove {
			delete(d, name)
		}
	}

	for k, v := range d {
		head, rest, dotted := dottedHead(k)
		if !dotted || head != name {
			continue
		}
		if picked == nil {
			picked = make(Data)
		}
		if _, conflict := picked[rest]; conflict {
			return nil, configError("dotted key %q conflicts with nested key %q", k, rest)
		}
		picked[rest] = v
		if remove {
			delete(d, k)
		}
	}

	return picked, nil
}

// keys returns the keys of the data in sorted order.
func (d Data) keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the data as YAML.
func (d Data) String() string {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Sprintf("<invalid configuration data: %v>", err)
	}
	return string(raw)
}
