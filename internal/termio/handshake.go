/*
 *
 * Copyright 2026 The termbridge Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package termio

import (
	"context"
	"time"
)

const handshakePollInterval = time.Millisecond

// WaitForWorker blocks until a worker-side channel has attached to the
// segment or ctx is done. The host calls this after spawning the worker;
// bound the wait with a context deadline.
func (s *Segment) WaitForWorker(ctx context.Context) error {
	return s.waitReady(ctx, s.view.WorkerReady)
}

// WaitForHost blocks until the host side is ready or ctx is done. The host
// stamps readiness when it creates the segment, so in the usual spawn order
// this returns immediately; it exists for workers attached by other means.
func (s *Segment) WaitForHost(ctx context.Context) error {
	return s.waitReady(ctx, s.view.HostReady)
}

func (s *Segment) waitReady(ctx context.Context, ready func() bool) error {
	if ready() {
		return nil
	}
	ticker := time.NewTicker(handshakePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}

// HostPID and WorkerPID report the process IDs each side recorded when it
// attached, 0 if that side has not attached yet.
func (s *Segment) HostPID() uint32   { return s.view.HostPID() }
func (s *Segment) WorkerPID() uint32 { return s.view.WorkerPID() }
