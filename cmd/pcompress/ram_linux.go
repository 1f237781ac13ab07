// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build linux

package main

import "golang.org/x/sys/unix"

// systemRAM returns total physical RAM in bytes, for spec.md SS6's -s
// validation ("maximum 80% of total RAM"). Grounded on
// _examples/kenchrcum-s3-encryption-gateway's use of golang.org/x/sys
// for low-level platform queries (there, golang.org/x/sys/cpu feature
// bits; here, golang.org/x/sys/unix.Sysinfo).
func systemRAM() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
