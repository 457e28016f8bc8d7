// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

// Package log implements per-source loggers with pluggable backends.
//
// Each package creates its own Logger with NewLogger(source). Messages are
// filtered by a global severity level, debug messages are enabled per source.
// Both are runtime-configurable through the "logger" configuration fragment.
// Messages are emitted by the active Backend: a simple fmt-based one by
// default, or klog.
package log
