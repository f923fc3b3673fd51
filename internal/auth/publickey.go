/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package auth

import (
	"encoding/base64"

	"github.com/altairalabs/vaultchat/internal/apperror"
)

// validPublicKeySizes are the decoded ML-KEM public-key lengths spec.md §6
// allows (ML-KEM-512, -768, -1024 respectively).
var validPublicKeySizes = map[int]bool{800: true, 1184: true, 1568: true}

// ValidatePublicKey decodes the base64-encoded public key submitted at
// registration and checks its length against the ML-KEM size set. The
// server never inspects the key material itself.
func ValidatePublicKey(b64 string) error {
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return apperror.Validation("public key is not valid base64")
	}
	if !validPublicKeySizes[len(decoded)] {
		return apperror.Validation("public key length %d is not a valid ML-KEM size", len(decoded))
	}
	return nil
}
