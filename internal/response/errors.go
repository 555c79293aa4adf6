package response

import "net/http"

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrAttemptNotFound     ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptNotOwned     ErrCode = "ATTEMPT_NOT_OWNED"
	ErrAttemptCompleted    ErrCode = "ATTEMPT_COMPLETED"
	ErrAttemptNotCompleted ErrCode = "ATTEMPT_NOT_COMPLETED"
	ErrAttemptLive         ErrCode = "ATTEMPT_ALREADY_CONNECTED"
	ErrNoQuestions         ErrCode = "NO_QUESTIONS"
	ErrReviewRequested     ErrCode = "REVIEW_ALREADY_REQUESTED"
	ErrPhotoNotFound       ErrCode = "PHOTO_NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

type codeInfo struct {
	status  int
	message string
}

var catalog = map[ErrCode]codeInfo{
	ErrSessionInvalidated: {http.StatusUnauthorized, "Sesi Anda telah berakhir. Silakan login kembali."},
	ErrTokenRequired:      {http.StatusUnauthorized, "Token autentikasi diperlukan."},
	ErrTokenInvalid:       {http.StatusUnauthorized, "Token autentikasi tidak valid."},
	ErrTokenExpired:       {http.StatusUnauthorized, "Token autentikasi telah kedaluwarsa."},

	ErrPermissionDenied:  {http.StatusForbidden, "Izin ditolak."},
	ErrStudentAccessOnly: {http.StatusForbidden, "Sumber daya ini terbatas untuk siswa."},
	ErrAdminAccessOnly:   {http.StatusForbidden, "Sumber daya ini terbatas untuk administrator."},

	ErrValidation:     {http.StatusBadRequest, "Validasi gagal. Silakan periksa masukan Anda."},
	ErrInvalidID:      {http.StatusBadRequest, "Format ID tidak valid."},
	ErrInvalidPayload: {http.StatusBadRequest, "Payload permintaan tidak valid."},

	ErrAttemptNotFound:     {http.StatusNotFound, "Percobaan ujian tidak ditemukan."},
	ErrAttemptNotOwned:     {http.StatusForbidden, "Percobaan ujian ini bukan milik Anda."},
	ErrAttemptCompleted:    {http.StatusConflict, "Ujian ini sudah diselesaikan."},
	ErrAttemptNotCompleted: {http.StatusConflict, "Ujian ini belum diselesaikan."},
	ErrAttemptLive:         {http.StatusConflict, "Ujian ini sedang dibuka di perangkat lain."},
	ErrNoQuestions:         {http.StatusUnprocessableEntity, "Soal ujian belum tersedia. Silakan hubungi pengawas."},
	ErrReviewRequested:     {http.StatusConflict, "Permintaan tinjauan sudah dikirim."},
	ErrPhotoNotFound:       {http.StatusNotFound, "Foto tidak ditemukan."},

	ErrRateLimitExceeded: {http.StatusTooManyRequests, "Terlalu banyak permintaan. Silakan coba lagi nanti."},

	ErrInternal: {http.StatusInternalServerError, "Terjadi kesalahan server internal."},
}

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	if info, ok := catalog[code]; ok {
		return info.message
	}
	return "Terjadi kesalahan yang tidak terduga."
}

// StatusOf returns the HTTP status a code is normally sent with.
func StatusOf(code ErrCode) int {
	if info, ok := catalog[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
