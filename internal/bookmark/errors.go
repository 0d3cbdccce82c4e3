package bookmark

import "errors"

// Errors raised while converting between the native store and the synced
// tree.
//
// Check them with errors.Is; native store failures wrap the underlying
// cause:
//
//	if errors.Is(err, bookmark.ErrContainerChanged) {
//	    // abandon the batch, reconcile on the next sync
//	}
var (
	// ErrContainerNotFound is returned when a native root container cannot
	// be located. Fatal to any sync attempt.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerChanged is returned when a native event touched the
	// container structure itself. The current batch is abandoned.
	ErrContainerChanged = errors.New("container changed")

	// ErrBookmarkMappingNotFound is returned when an id mapping that must
	// exist is missing.
	ErrBookmarkMappingNotFound = errors.New("bookmark mapping not found")

	// ErrAmbiguousSyncRequest is returned for an unknown change or request
	// type.
	ErrAmbiguousSyncRequest = errors.New("ambiguous sync request")

	// ErrBookmarkNotFound is returned when a synced id is not in the tree.
	ErrBookmarkNotFound = errors.New("bookmark not found")

	// ErrNativeBookmarkNotFound is returned when the native store has no
	// node for an id.
	ErrNativeBookmarkNotFound = errors.New("native bookmark not found")

	ErrFailedCreateNativeBookmarks = errors.New("failed to create native bookmarks")
	ErrFailedUpdateNativeBookmarks = errors.New("failed to update native bookmarks")
	ErrFailedRemoveNativeBookmarks = errors.New("failed to remove native bookmarks")
	ErrFailedGetNativeBookmarks    = errors.New("failed to get native bookmarks")
)

// Code is a stable identifier for an error, used in broadcast payloads.
type Code string

const (
	CodeNone                    Code = ""
	CodeUnknown                 Code = "UNKNOWN"
	CodeContainerNotFound       Code = "CONTAINER_NOT_FOUND"
	CodeContainerChanged        Code = "CONTAINER_CHANGED"
	CodeMappingNotFound         Code = "BOOKMARK_MAPPING_NOT_FOUND"
	CodeAmbiguousSyncRequest    Code = "AMBIGUOUS_SYNC_REQUEST"
	CodeBookmarkNotFound        Code = "BOOKMARK_NOT_FOUND"
	CodeNativeBookmarkNotFound  Code = "NATIVE_BOOKMARK_NOT_FOUND"
	CodeFailedCreateNative      Code = "FAILED_CREATE_NATIVE_BOOKMARKS"
	CodeFailedUpdateNative      Code = "FAILED_UPDATE_NATIVE_BOOKMARKS"
	CodeFailedRemoveNative      Code = "FAILED_REMOVE_NATIVE_BOOKMARKS"
	CodeFailedGetNative         Code = "FAILED_GET_NATIVE_BOOKMARKS"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrContainerNotFound, CodeContainerNotFound},
	{ErrContainerChanged, CodeContainerChanged},
	{ErrBookmarkMappingNotFound, CodeMappingNotFound},
	{ErrAmbiguousSyncRequest, CodeAmbiguousSyncRequest},
	{ErrBookmarkNotFound, CodeBookmarkNotFound},
	{ErrNativeBookmarkNotFound, CodeNativeBookmarkNotFound},
	{ErrFailedCreateNativeBookmarks, CodeFailedCreateNative},
	{ErrFailedUpdateNativeBookmarks, CodeFailedUpdateNative},
	{ErrFailedRemoveNativeBookmarks, CodeFailedRemoveNative},
	{ErrFailedGetNativeBookmarks, CodeFailedGetNative},
}

// RegisterCode associates code with err for ErrorCode. Packages owning
// their own sentinels register them at init.
func RegisterCode(err error, code Code) {
	codes = append(codes, struct {
		err  error
		code Code
	}{err, code})
}

// ErrorCode returns the code of the first registered sentinel err wraps.
func ErrorCode(err error) Code {
	if err == nil {
		return CodeNone
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
