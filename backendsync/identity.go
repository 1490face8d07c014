package backendsync

import (
	"context"
	"net/url"
	"strings"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// Identity translation: the device and the backend mint ids independently for
// the same person, correlated only by email. The caches live on the Engine
// for the sync session; a missing backend match self-maps so resolution can
// never block the rest of the sync. Concurrent sibling flows may race on the
// maps, but every write for a key carries the same value, so last write wins
// harmlessly.

// resolveBackendEmployeeId maps a local employee id to the backend-canonical
// id, falling back to the local id itself.
func (e *Engine) resolveBackendEmployeeId(ctx context.Context, localId string) string {
	if cached, ok := e.toBackend[localId]; ok {
		return cached
	}

	backendId := localId

	emp, err := models.GetEmployeeById(ctx, e.db, localId)
	if err != nil || strings.TrimSpace(emp.Email) == "" {
		// No email to correlate on; self-map is the deliberate fallback,
		// not an error.
		e.cacheIdentity(localId, backendId)
		return backendId
	}

	if remoteId, ok := e.searchBackendByEmail(ctx, emp.Email); ok {
		backendId = remoteId
	}
	e.cacheIdentity(localId, backendId)
	return backendId
}

// resolveLocalEmployeeId is the pull-direction inverse: backend id in, local
// id out. Unmatched backend ids pass through unchanged.
func (e *Engine) resolveLocalEmployeeId(ctx context.Context, backendId string) string {
	if cached, ok := e.toLocal[backendId]; ok {
		return cached
	}

	localId := backendId

	var remote employeeWire
	err := e.client.getJSON(ctx, apiPathEmployees+"/"+url.PathEscape(backendId), nil, &remote)
	if err != nil || strings.TrimSpace(remote.Email) == "" {
		if err != nil {
			config.LogWarn(e.log, "backendsync", "resolveLocalEmployeeId", backendId,
				"backend employee lookup failed, keeping backend id: "+err.Error())
		}
		e.cacheIdentity(localId, backendId)
		return localId
	}

	local, err := models.FindEmployeeByEmail(ctx, e.db, remote.Email)
	if err == nil && local != nil {
		localId = local.ID
	}
	e.cacheIdentity(localId, backendId)
	return localId
}

// searchBackendByEmail queries the employee search endpoint and picks the
// case-insensitive exact match among the candidates. Any failure reads as
// "no match"; identity resolution fails open.
func (e *Engine) searchBackendByEmail(ctx context.Context, email string) (string, bool) {
	params := url.Values{}
	params.Set("email", strings.TrimSpace(email))

	var envelope struct {
		Data  []employeeWire `json:"data"`
		Items []employeeWire `json:"items"`
	}
	if err := e.client.getJSON(ctx, apiPathEmployees, params, &envelope); err != nil {
		config.LogWarn(e.log, "backendsync", "searchBackendByEmail", email,
			"employee search failed, treating as no match: "+err.Error())
		return "", false
	}

	candidates := envelope.Data
	if len(candidates) == 0 {
		candidates = envelope.Items
	}
	for _, candidate := range candidates {
		if utils.EmailEqual(candidate.Email, email) && candidate.ID != "" {
			return candidate.ID, true
		}
	}
	return "", false
}

func (e *Engine) cacheIdentity(localId, backendId string) {
	e.toBackend[localId] = backendId
	e.toLocal[backendId] = localId
}
