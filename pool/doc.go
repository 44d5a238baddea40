// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package pool provides reusable read buffers for socket readers.
package pool
