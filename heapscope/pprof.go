// Copyright 2022-2025 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heapscope

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"
)

// leaksToProfile converts the aggregated leaks into a pprof profile with one
// sample per leak group. Locations and functions are interned per address.
func (e *Engine) leaksToProfile(leaks []AggregatedLeak) *profile.Profile {
	prof := &profile.Profile{
		DefaultSampleType: "inuse_space",
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	// Track unique locations and functions
	locationMap := make(map[uint64]*profile.Location)
	functionMap := make(map[uint64]*profile.Function)
	nextLocationID := uint64(1)
	nextFunctionID := uint64(1)

	for _, leak := range leaks {
		var locations []*profile.Location
		for _, pc := range leak.Stack.Frames() {
			addr := uint64(pc)
			if addr == 0 {
				break
			}

			loc, exists := locationMap[addr]
			if !exists {
				loc = &profile.Location{
					ID:      nextLocationID,
					Address: addr,
				}
				nextLocationID++

				fn, fnExists := functionMap[addr]
				if !fnExists {
					funcName := e.resolveFrame(pc)
					// Drop the byte-offset suffix; pprof wants the bare name.
					if idx := strings.LastIndex(funcName, ":"); idx > 0 {
						funcName = funcName[:idx]
					}
					if funcName == "" {
						funcName = fmt.Sprintf("func_%x", addr)
					}

					fn = &profile.Function{
						ID:         nextFunctionID,
						Name:       funcName,
						SystemName: funcName,
					}
					nextFunctionID++
					functionMap[addr] = fn
					prof.Function = append(prof.Function, fn)
				}

				loc.Line = []profile.Line{
					{
						Function: fn,
						Line:     1,
					},
				}

				locationMap[addr] = loc
				prof.Location = append(prof.Location, loc)
			}

			locations = append(locations, loc)
		}

		sample := &profile.Sample{
			Location: locations,
			Value:    []int64{int64(leak.Blocks), int64(leak.Bytes)},
		}
		prof.Sample = append(prof.Sample, sample)
	}

	return prof
}

// writeProfile writes the aggregated leaks as a gzip-compressed pprof
// profile. Failures are reported on the diagnostic sink and never affect the
// JSON report.
func (e *Engine) writeProfile(leaks []AggregatedLeak) {
	prof := e.leaksToProfile(leaks)

	f, err := os.Create(e.cfg.ProfileFile)
	if err != nil {
		e.sink.Report(SeverityError, fmt.Sprintf("unable to open profile output file (%s) for writing", e.cfg.ProfileFile))
		return
	}
	defer f.Close()

	if err := prof.Write(f); err != nil {
		log.WithError(err).WithField("path", e.cfg.ProfileFile).Debug("writing leak profile failed")
	}
}
