package askdoc

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("askdoc: document not found")

	// ErrSessionNotFound is returned when a chat session ID does not exist.
	ErrSessionNotFound = errors.New("askdoc: session not found")

	// ErrUnsupportedType is returned for file types outside allowedTypes.
	ErrUnsupportedType = errors.New("askdoc: unsupported document type")

	// ErrFileTooLarge is returned when an upload exceeds maxFileSize.
	ErrFileTooLarge = errors.New("askdoc: file too large")

	// ErrEmptyFile is returned for zero-length uploads.
	ErrEmptyFile = errors.New("askdoc: empty file")

	// ErrDocumentProcess is returned when parsing or indexing a document fails.
	ErrDocumentProcess = errors.New("askdoc: document processing failed")

	// ErrInvalidArgument is returned for malformed request parameters.
	ErrInvalidArgument = errors.New("askdoc: invalid argument")

	// ErrEmbeddingFailed is returned when embedding generation fails for
	// any chunk of a document, even after an individual retry.
	ErrEmbeddingFailed = errors.New("askdoc: embedding generation failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("askdoc: invalid configuration")
)
