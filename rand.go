// SPDX-License-Identifier: LGPL-3.0-or-later

package syncshell

import (
	"crypto/rand"
	"fmt"
)

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("syncshell: generate random bytes: %w", err)
	}
	return b, nil
}
