// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package clock

import "time"

var epoch = time.Now()

// fallbackNow uses the runtime's monotonic reading. The +1ns keeps the first
// reading non-zero.
func fallbackNow() time.Duration {
	return time.Since(epoch) + 1
}
