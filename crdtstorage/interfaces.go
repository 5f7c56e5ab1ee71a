package crdtstorage

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// UpdateStore는 문서별 업데이트 로그를 저장하는 인터페이스입니다.
// 업데이트는 해석하지 않는 바이트열로 다루며, 추가된 순서대로 반환합니다.
type UpdateStore interface {
	// Append는 문서 로그 끝에 업데이트를 추가합니다.
	Append(ctx context.Context, docID string, update []byte) error

	// Load는 문서의 모든 업데이트를 추가된 순서대로 반환합니다.
	// 문서가 없으면 ErrDocumentNotFound를 반환합니다.
	Load(ctx context.Context, docID string) ([][]byte, error)

	// Replace는 로그의 앞쪽 consumed개 업데이트를 스냅샷 하나로 교체합니다.
	// 그 뒤에 추가된 업데이트는 스냅샷 다음에 그대로 남습니다.
	// consumed가 1보다 작거나 로그 길이보다 크면 ErrShortLog를 반환합니다.
	Replace(ctx context.Context, docID string, consumed int, snapshot []byte) error

	// Delete는 문서 로그를 삭제합니다.
	Delete(ctx context.Context, docID string) error

	// List는 저장된 문서 ID 목록을 정렬하여 반환합니다.
	List(ctx context.Context) ([]string, error)

	// Close는 저장소를 닫습니다.
	Close() error
}

var (
	// ErrDocumentNotFound는 문서가 저장소에 없을 때 반환됩니다.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocumentID는 사용할 수 없는 문서 ID일 때 반환됩니다.
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrStorageClosed는 닫힌 저장소를 사용할 때 반환됩니다.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrShortLog는 교체할 업데이트 수가 로그에 없을 때 반환됩니다.
	ErrShortLog = errors.New("update log is shorter than the replaced prefix")
)

// validateDocID는 문서 ID가 비어 있지 않고 경로 구분자를 포함하지 않는지 확인합니다.
func validateDocID(docID string) error {
	if docID == "" || docID == "." || docID == ".." || strings.ContainsAny(docID, "/:") {
		return errors.Wrapf(ErrInvalidDocumentID, "%q", docID)
	}
	return nil
}

func checkConsumed(docID string, consumed, length int) error {
	if consumed < 1 || consumed > length {
		return errors.Wrapf(ErrShortLog, "%s: replacing %d of %d updates", docID, consumed, length)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
