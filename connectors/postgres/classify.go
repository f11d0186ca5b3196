// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/sdk"
)

const (
	codeDuplicateDatabase pq.ErrorCode = "42P04"
	codeQueryCanceled     pq.ErrorCode = "57014"
	codeAdminShutdown     pq.ErrorCode = "57P01"
	codeCrashShutdown     pq.ErrorCode = "57P02"
	codeCannotConnectNow  pq.ErrorCode = "57P03"
	codeSerialization     pq.ErrorCode = "40001"
	codeDeadlockDetected  pq.ErrorCode = "40P01"
)

// IsTransient reports whether err is worth retrying: a dropped or refused
// connection, a server that is starting up or out of resources, or a
// serialization conflict. Syntax, constraint, authentication and input
// errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, base.ErrInvalidProjectID) || errors.Is(err, base.ErrInvalidName) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeAdminShutdown, codeCrashShutdown, codeCannotConnectNow,
			codeSerialization, codeDeadlockDetected:
			return true
		case codeQueryCanceled:
			return false
		}
		switch pqErr.Code.Class() {
		case "08", "53":
			return true
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return sdk.DefaultRetryCondition(err)
}

func isDuplicateDatabase(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeDuplicateDatabase
}
