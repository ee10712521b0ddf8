// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signaling

import (
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func getVersionAttrs() []attribute.KeyValue {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	var out []attribute.KeyValue
	for _, d := range append([]*debug.Module{&info.Main}, info.Deps...) {
		switch d.Path {
		case "github.com/sipe-go/mediacall":
			out = append(out, attribute.String("mediacall.version", d.Version))
		case "github.com/emiago/sipgo":
			vers := d.Version
			if d.Replace != nil {
				vers = d.Replace.Version
			}
			out = append(out, attribute.String("mediacall.sipgo.version", vers))
		}
	}
	return out
}

var Tracer = otel.Tracer(
	"github.com/sipe-go/mediacall",
	trace.WithInstrumentationAttributes(getVersionAttrs()...),
)
