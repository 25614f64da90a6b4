package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"poi-api/internal/importer"
	"poi-api/internal/logger"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
)

// 文档注释：导入处理器
// 背景：把上游要素固化为应用记录。管线语义在 importer 包；本处理器只负责
// 入参校验、身份与防伪校验、以及把管线的各类失败映射到明确的 HTTP 状态码。
// 约束：状态码映射是对外契约：
// 400 入参畸形；403 会话/防伪失败；404 上游无此要素；
// 409 国家不符或同键导入进行中；500 存储或上游不可达。
func (d Deps) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	uid, ok := d.Auth.UserID(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, importResponse{Error: "forbidden", Detail: "invalid session"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, importResponse{Error: "bad_request", Detail: "malformed form"})
		return
	}
	if !d.Auth.CheckCSRF(r, r.PostFormValue("csrfToken")) {
		writeJSON(w, http.StatusForbidden, importResponse{Error: "forbidden", Detail: "csrf check failed"})
		return
	}

	osmType := strings.TrimSpace(r.PostFormValue("osmType"))
	switch osmType {
	case "node", "way", "relation":
	default:
		writeJSON(w, http.StatusBadRequest, importResponse{Error: "bad_request", Detail: "unknown osmType"})
		return
	}
	kind := poi.ParseKind(osmType)
	id, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("osmId")), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, importResponse{Error: "bad_request", Detail: "invalid osmId"})
		return
	}

	res, err := d.Importer.Promote(r.Context(), kind, id, uid, nil)
	if err != nil {
		d.writeImportError(w, kind, id, err)
		return
	}

	out := importResponse{OK: true, ID: res.ID, Existing: res.Existing}
	out.Backfill = res.Backfill
	if len(res.Warnings) > 0 {
		out.Warning = strings.Join(res.Warnings, "; ")
	}
	writeJSON(w, http.StatusOK, out)
}

// writeImportError：管线错误到状态码的集中映射
func (d Deps) writeImportError(w http.ResponseWriter, kind poi.SourceKind, id int64, err error) {
	var cm *importer.CountryMismatchError
	var ue *overpass.UnreachableError
	switch {
	case errors.Is(err, importer.ErrInProgress):
		writeJSON(w, http.StatusConflict, importResponse{Error: "in_progress", Detail: "import already running for this element"})
	case errors.As(err, &cm):
		writeJSON(w, http.StatusConflict, importResponse{Error: "country_mismatch", Detail: cm.Error()})
	case errors.Is(err, overpass.ErrNotFound):
		writeJSON(w, http.StatusNotFound, importResponse{Error: "not_found", Detail: "element not found upstream"})
	case errors.As(err, &ue):
		logger.L().Error("import_upstream_unreachable", "kind", kind.String(), "id", id, "attempts", len(ue.Attempts))
		writeJSON(w, http.StatusInternalServerError, importResponse{Error: "upstream_unreachable"})
	default:
		logger.L().Error("import_failed", "kind", kind.String(), "id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, importResponse{Error: "storage_error"})
	}
}
