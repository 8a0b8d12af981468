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

package directory

import "fmt"

// Key layout in the shared store. The exact namespacing is preserved for
// interoperability with existing deployments of this design.
//
//	<prefix>:broker-user-sessions:<brokerId>   hash userId -> [UserRecord]
//	<prefix>:broker-server-sessions:<brokerId> hash group  -> [ClientRecord]
//	<prefix>:session-users                     zset of serialized UserRecord
//	<prefix>:session-users:<tenantId>          zset of serialized UserRecord
//	<prefix>:brokers                           hash roster of broker IDs
//	<prefix>:brokers:<brokerId>                TTL liveness marker

func userSessionsKey(prefix, brokerID string) string {
	return fmt.Sprintf("%s:broker-user-sessions:%s", prefix, brokerID)
}

func groupSessionsKey(prefix, brokerID string) string {
	return fmt.Sprintf("%s:broker-server-sessions:%s", prefix, brokerID)
}

func onlineUsersKey(prefix string) string {
	return fmt.Sprintf("%s:session-users", prefix)
}

func tenantOnlineUsersKey(prefix string, tenantID int64) string {
	return fmt.Sprintf("%s:session-users:%d", prefix, tenantID)
}

func brokerRosterKey(prefix string) string {
	return fmt.Sprintf("%s:brokers", prefix)
}

func brokerLivenessKey(prefix, brokerID string) string {
	return fmt.Sprintf("%s:brokers:%s", prefix, brokerID)
}
