// Copyright 2022 The wsbroker Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"fmt"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// TokenValidator predicate on whether an auth token is still valid. Consulted
// only by the reconciliation sweep.
type TokenValidator interface {
	IsValid(ctxt context.Context, token string) (bool, error)
}

// storeTokenValidator implements TokenValidator against the OAuth token store:
// a token is valid while its key is present
type storeTokenValidator struct {
	common.Component
	store     storage.KeyValue
	keyPrefix string
}

// GetStoreTokenValidator define a token validator backed by the token store
func GetStoreTokenValidator(
	store storage.KeyValue, keyPrefix, instance string,
) (TokenValidator, error) {
	logTags := log.Fields{
		"module": "auth", "component": "token-validator", "instance": instance,
	}
	return &storeTokenValidator{
		Component: common.Component{LogTags: logTags},
		store:     store,
		keyPrefix: keyPrefix,
	}, nil
}

// IsValid whether the token's store key is still present
func (v *storeTokenValidator) IsValid(ctxt context.Context, token string) (bool, error) {
	return v.store.Exists(ctxt, fmt.Sprintf("%s%s", v.keyPrefix, token))
}

// allowAllValidator implements TokenValidator for deployments without a token
// store; every token passes
type allowAllValidator struct{}

// GetAllowAllValidator define a validator which accepts every token
func GetAllowAllValidator() (TokenValidator, error) {
	return &allowAllValidator{}, nil
}

// IsValid always true
func (v *allowAllValidator) IsValid(ctxt context.Context, token string) (bool, error) {
	return true, nil
}
