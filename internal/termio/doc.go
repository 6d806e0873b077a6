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

// Package termio implements the shared-memory terminal I/O bridge between a
// host process (which renders terminal output and supplies keyboard input)
// and a worker process (which runs a user program against a text console).
//
// The bridge is a pair of lock-free single-producer/single-consumer ring
// buffers living in one shared memory segment: a large output ring carrying
// program output from worker to host, and a small input ring carrying 4-byte
// key event packets from host to worker. There are no locks, sockets, or
// pipes between the two sides; all coordination happens through the ring
// indices, a per-ring signal counter, and a handful of atomic header fields.
//
// Ring operations never block. Blocking consumption (ReadKey, ReadOutput) is
// layered on top in Channel using a bounded-interval wait strategy, so a
// cooperative cancellation (a shared flag plus a reserved sentinel packet
// written into the input ring) can always interrupt a parked reader within
// one poll interval.
package termio
