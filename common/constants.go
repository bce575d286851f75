package common

import "time"

// LogTimeout is the duration between each log flush operation. It is probably better to align this with disk's iops
// rate as much as possible.
const LogTimeout = time.Millisecond * 3
