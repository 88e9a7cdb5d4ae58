// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes node-runtime instrumentation as Prometheus
// metrics: vault key operations, secure channel handshakes, the forwarded
// sessions the Medic supervises, and raw message throughput.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ockam"

// Registry is the node's Prometheus registry. Every metric in this package
// is registered against it rather than the global default, so these
// metrics do not collide with anything else registered in the default
// registry. It is a single package-level registry: every node in one
// process reports into the same metrics.
var Registry = prometheus.NewRegistry()
