package manifest

import (
	"strings"

	"github.com/starford/galleria/internal/models"
)

// LastSegment returns the part of path after its final slash, or path itself
// when that part is empty.
func LastSegment(path string) string {
	if seg := path[strings.LastIndex(path, "/")+1:]; seg != "" {
		return seg
	}
	return path
}

// Merge builds one Photo per path, in order and keeping duplicates. A path
// with no matching row, or a row with an empty name, falls back to the last
// path segment. When rows repeat a path the last one wins.
func Merge(paths []string, rows []models.PhotoMetadataRow) []models.Photo {
	byPath := make(map[string]models.PhotoMetadataRow, len(rows))
	for _, r := range rows {
		byPath[r.Path] = r
	}

	photos := make([]models.Photo, 0, len(paths))
	for _, p := range paths {
		photo := models.Photo{
			Path: p,
			Name: LastSegment(p),
			URL:  p,
		}
		if r, ok := byPath[p]; ok {
			if r.Name != "" {
				photo.Name = r.Name
			}
			photo.Favorite = r.Favorite
			photo.Description = r.Description
		}
		photos = append(photos, photo)
	}
	return photos
}

// Filter keeps photos whose name or description contains term, ignoring case.
// A blank term returns photos unchanged.
func Filter(photos []models.Photo, term string) []models.Photo {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return photos
	}
	out := make([]models.Photo, 0, len(photos))
	for _, p := range photos {
		if strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Description), term) {
			out = append(out, p)
		}
	}
	return out
}

// Paginate returns page (0-based) of size photos. Pages outside the range
// are empty.
func Paginate(photos []models.Photo, page, size int) []models.Photo {
	if page < 0 || size <= 0 || len(photos) == 0 || page > (len(photos)-1)/size {
		return []models.Photo{}
	}
	start := page * size
	end := min(start+size, len(photos))
	out := make([]models.Photo, end-start)
	copy(out, photos[start:end])
	return out
}

// TotalPages returns ceil(count/size).
func TotalPages(count, size int) int {
	if size <= 0 || count <= 0 {
		return 0
	}
	pages := count / size
	if count%size != 0 {
		pages++
	}
	return pages
}
