// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

//go:build !linux

package clock

import "time"

func monotonicNow() time.Duration {
	return fallbackNow()
}

func osSleep(d time.Duration) {
	time.Sleep(d)
}
