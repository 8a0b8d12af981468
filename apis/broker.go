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

package apis

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbroker/broker"
	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/directory"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// APIRestBrokerHandler REST handler for the broker management surface
type APIRestBrokerHandler struct {
	goutils.RestAPIHandler
	node     broker.Broker
	index    directory.OnlineUserIndex
	validate *validator.Validate
}

// GetAPIRestBrokerHandler define APIRestBrokerHandler
func GetAPIRestBrokerHandler(
	node broker.Broker,
	index directory.OnlineUserIndex,
	httpConfig *common.HTTPConfig,
) (APIRestBrokerHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "broker-management",
		"instance":  node.ID(),
	}
	return APIRestBrokerHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		}, node: node, index: index, validate: validator.New(),
	}, nil
}

// Write logging support
func (h APIRestBrokerHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// APIRestReqSendMessage request body of the message send end-points
type APIRestReqSendMessage struct {
	// Message the payload to deliver
	Message string `json:"message" validate:"required"`
}

// parseSendRequest read and validate a send request body
func (h APIRestBrokerHandler) parseSendRequest(
	r *http.Request,
) (APIRestReqSendMessage, error) {
	var params APIRestReqSendMessage
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		return params, err
	}
	if err := h.validate.Struct(&params); err != nil {
		return params, err
	}
	return params, nil
}

// -----------------------------------------------------------------------

// SendToSession godoc
// @Summary Send a message to one user session
// @Description Deliver a message to one user-owned session by its session ID,
// wherever in the cluster it lives
// @tags Management
// @Accept json
// @Produce json
// @Param sessionID path string true "Target session ID"
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/session/{sessionID} [post]
func (h APIRestBrokerHandler) SendToSession(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	sessionID, ok := vars["sessionID"]
	if !ok {
		msg := "No session ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().SendToSession(
		r.Context(), sessionID, []byte(params.Message),
	); err != nil {
		msg := "Failed to send to session"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToSessionHandler Wrapper around SendToSession
func (h APIRestBrokerHandler) SendToSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToSession(w, r)
	}
}

// -----------------------------------------------------------------------

// SendToUser godoc
// @Summary Send a message to one user
// @Description Deliver a message to every session of one user, across all brokers
// @tags Management
// @Accept json
// @Produce json
// @Param userID path int true "Target user ID"
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/user/{userID} [post]
func (h APIRestBrokerHandler) SendToUser(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	userID, err := strconv.ParseInt(vars["userID"], 10, 64)
	if err != nil {
		msg := "Invalid user ID"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().SendToUser(
		r.Context(), userID, []byte(params.Message),
	); err != nil {
		msg := "Failed to send to user"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToUserHandler Wrapper around SendToUser
func (h APIRestBrokerHandler) SendToUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToUser(w, r)
	}
}

// -----------------------------------------------------------------------

// SendToAll godoc
// @Summary Broadcast a message to all users
// @Description Deliver a message to every user-owned session in the cluster
// @tags Management
// @Accept json
// @Produce json
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/all [post]
func (h APIRestBrokerHandler) SendToAll(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().SendToAll(r.Context(), []byte(params.Message)); err != nil {
		msg := "Failed to broadcast"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToAllHandler Wrapper around SendToAll
func (h APIRestBrokerHandler) SendToAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToAll(w, r)
	}
}

// -----------------------------------------------------------------------

// SendToGroupSession godoc
// @Summary Send a message to one group session
// @Description Deliver a message to one group-owned session by its session ID
// @tags Management
// @Accept json
// @Produce json
// @Param sessionID path string true "Target session ID"
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/group-session/{sessionID} [post]
func (h APIRestBrokerHandler) SendToGroupSession(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	sessionID, ok := vars["sessionID"]
	if !ok {
		msg := "No session ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().SendToGroupSession(
		r.Context(), sessionID, []byte(params.Message),
	); err != nil {
		msg := "Failed to send to group session"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToGroupSessionHandler Wrapper around SendToGroupSession
func (h APIRestBrokerHandler) SendToGroupSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToGroupSession(w, r)
	}
}

// -----------------------------------------------------------------------

// SendToGroup godoc
// @Summary Send a message to one group
// @Description Deliver a message to every session of one group, across all brokers
// @tags Management
// @Accept json
// @Produce json
// @Param group path string true "Target group"
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/group/{group} [post]
func (h APIRestBrokerHandler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	group, ok := vars["group"]
	if !ok {
		msg := "No group provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().SendToGroup(
		r.Context(), group, []byte(params.Message),
	); err != nil {
		msg := "Failed to send to group"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToGroupHandler Wrapper around SendToGroup
func (h APIRestBrokerHandler) SendToGroupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToGroup(w, r)
	}
}

// -----------------------------------------------------------------------

// BroadcastGroups godoc
// @Summary Broadcast a message to all groups
// @Description Deliver a message to every group-owned session in the cluster
// @tags Management
// @Accept json
// @Produce json
// @Param message body APIRestReqSendMessage true "Message to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/send/groups [post]
func (h APIRestBrokerHandler) BroadcastGroups(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	params, err := h.parseSendRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.node.Router().BroadcastGroups(r.Context(), []byte(params.Message)); err != nil {
		msg := "Failed to broadcast to groups"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// BroadcastGroupsHandler Wrapper around BroadcastGroups
func (h APIRestBrokerHandler) BroadcastGroupsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.BroadcastGroups(w, r)
	}
}

// -----------------------------------------------------------------------

// CloseGroup godoc
// @Summary Close all sessions of one group
// @Description Force-close every session of one group, across all brokers
// @tags Management
// @Produce json
// @Param group path string true "Target group"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/group/{group}/close [post]
func (h APIRestBrokerHandler) CloseGroup(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	group, ok := vars["group"]
	if !ok {
		msg := "No group provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	if err := h.node.Router().CloseGroup(r.Context(), group); err != nil {
		msg := "Failed to close group"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// CloseGroupHandler Wrapper around CloseGroup
func (h APIRestBrokerHandler) CloseGroupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CloseGroup(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespOnlineUser one online user session entry
type APIRestRespOnlineUser struct {
	// SessionID the session ID
	SessionID string `json:"sessionId" validate:"required"`
	// UserID the owning user
	UserID int64 `json:"userId" validate:"required"`
	// TenantID the user's tenant
	TenantID int64 `json:"tenantId"`
	// BrokerID the broker owning the session
	BrokerID string `json:"brokerId" validate:"required"`
}

// APIRestRespOnlineUsers response for listing online users
type APIRestRespOnlineUsers struct {
	goutils.RestAPIBaseResponse
	// Total the total number of online sessions
	Total int64 `json:"total"`
	// Users the requested page of online sessions
	Users []APIRestRespOnlineUser `json:"users"`
}

// GetOnlineUsers godoc
// @Summary Query online users
// @Description Page through the cluster-wide online user index
// @tags Management
// @Produce json
// @Param page query int false "Page number, starting at 0"
// @Param size query int false "Page size"
// @Param tenantId query int false "Restrict to one tenant"
// @Success 200 {object} APIRestRespOnlineUsers "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/online [get]
func (h APIRestBrokerHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	query := r.URL.Query()
	page := 0
	size := 20
	var err error
	if raw := query.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 0 {
			msg := "Invalid page"
			log.WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
			return
		}
	}
	if raw := query.Get("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil || size < 1 {
			msg := "Invalid size"
			log.WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
			return
		}
	}

	var records []directory.UserRecord
	var total int64
	if raw := query.Get("tenantId"); raw != "" {
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			msg := "Invalid tenantId"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		records, err = h.index.PageTenant(r.Context(), tenantID, page, size)
		if err == nil {
			total, err = h.index.CountTenant(r.Context(), tenantID)
		}
		if err != nil {
			msg := "Failed to read online index"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
			return
		}
	} else {
		records, err = h.index.Page(r.Context(), page, size)
		if err == nil {
			total, err = h.index.Count(r.Context())
		}
		if err != nil {
			msg := "Failed to read online index"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
			return
		}
	}

	users := make([]APIRestRespOnlineUser, 0, len(records))
	for _, record := range records {
		users = append(users, APIRestRespOnlineUser{
			SessionID: record.SessionID,
			UserID:    record.UserID,
			TenantID:  record.TenantID,
			BrokerID:  record.BrokerID,
		})
	}
	respCode = http.StatusOK
	respBody = APIRestRespOnlineUsers{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Total: total,
		Users: users,
	}
}

// GetOnlineUsersHandler Wrapper around GetOnlineUsers
func (h APIRestBrokerHandler) GetOnlineUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetOnlineUsers(w, r)
	}
}

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For liveness check
// @Description Will return success to indicate the process is still up
// @tags Management
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestBrokerHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestBrokerHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For readiness check
// @Description Will return success once the broker's envelope subscription is live
// @tags Management
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 503 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestBrokerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	if h.node.Healthy() {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		msg := "Envelope subscription inactive"
		respCode = http.StatusServiceUnavailable
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusServiceUnavailable, msg, msg)
	}
	if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestBrokerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
