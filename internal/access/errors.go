// SPDX-License-Identifier: MIT

package access

import "errors"

var (
	errFilterBlocked     = errors.New("access: blocked by filter")
	errReputationRefused = errors.New("access: reputation score non-positive")
	errSubnetCapExceeded = errors.New("access: subnet connection cap exceeded")
)
