// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !linux

package main

// systemRAM returns 0 (unknown) on platforms this repository has no
// Sysinfo-equivalent query wired up for; pipeline.ValidateChunkSize
// treats 0 as "no RAM ceiling to enforce".
func systemRAM() uint64 { return 0 }
