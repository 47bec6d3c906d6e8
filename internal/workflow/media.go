package workflow

import (
	"path"
	"strings"
)

// MediaKind classifies a resolved string value for preview rendering and
// history output-type detection.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	Kind3D    MediaKind = "3d"
	KindText  MediaKind = "text"
	KindFile  MediaKind = "file"
)

// Transport schemes the resolver recognizes as usable upstream outputs.
const (
	SchemeHTTP       = "http://"
	SchemeHTTPS      = "https://"
	SchemeBlob       = "blob:"
	SchemeLocalAsset = "local-asset://"
	SchemeData       = "data:"
)

// RecognizedScheme reports whether a value looks like a transportable media
// or text reference rather than an inline literal.
func RecognizedScheme(v string) bool {
	return strings.HasPrefix(v, SchemeHTTP) ||
		strings.HasPrefix(v, SchemeHTTPS) ||
		strings.HasPrefix(v, SchemeBlob) ||
		strings.HasPrefix(v, SchemeLocalAsset) ||
		strings.HasPrefix(v, SchemeData)
}

var extKinds = map[string]MediaKind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".webp": KindImage,
	".gif": KindImage, ".bmp": KindImage, ".svg": KindImage, ".avif": KindImage,
	".mp4": KindVideo, ".webm": KindVideo, ".mov": KindVideo, ".avi": KindVideo,
	".mkv": KindVideo, ".m4v": KindVideo,
	".mp3": KindAudio, ".wav": KindAudio, ".ogg": KindAudio, ".flac": KindAudio,
	".m4a": KindAudio, ".aac": KindAudio,
	".glb": Kind3D, ".gltf": Kind3D, ".obj": Kind3D, ".fbx": Kind3D, ".stl": Kind3D,
	".txt": KindText, ".md": KindText, ".srt": KindText, ".json": KindText,
	".csv": KindText,
}

// ClassifyValue derives a media kind from a resolved string value. It is pure
// and side-effect-free so preview rendering and history detection can share
// it.
//
// Rules: data: URIs classify by MIME prefix; URL-shaped values classify by
// path extension; opaque transport URIs (blob:, local-asset://) without an
// extension default to the richer media kind (video), since they are only
// ever minted for picked or generated media; http(s) URLs without a known
// extension are generic files; anything without a recognized scheme is plain
// text.
func ClassifyValue(v string) MediaKind {
	if v == "" {
		return KindText
	}
	if strings.HasPrefix(v, SchemeData) {
		return classifyDataURI(v)
	}
	if !RecognizedScheme(v) {
		return KindText
	}
	if kind, ok := extKinds[valueExtension(v)]; ok {
		return kind
	}
	if strings.HasPrefix(v, SchemeBlob) || strings.HasPrefix(v, SchemeLocalAsset) {
		return KindVideo
	}
	return KindFile
}

func classifyDataURI(v string) MediaKind {
	mime := strings.TrimPrefix(v, SchemeData)
	if i := strings.IndexAny(mime, ";,"); i >= 0 {
		mime = mime[:i]
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.HasPrefix(mime, "model/"):
		return Kind3D
	case strings.HasPrefix(mime, "text/"), mime == "application/json":
		return KindText
	default:
		return KindFile
	}
}

// valueExtension extracts a lowercase path extension, ignoring query strings
// and fragments.
func valueExtension(v string) string {
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(path.Ext(v))
}
