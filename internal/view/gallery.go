package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"attendsync/internal/models"
)

var ErrInvalidPhotoName = errors.New("invalid photo name")

// StudentDirectory is the backend's gallery of enrolled faces.
type StudentDirectory interface {
	Students(ctx context.Context) ([]models.Student, error)
	DeleteStudent(ctx context.Context, studentID string) error
	StudentPhoto(ctx context.Context, photoName string) ([]byte, error)
}

// Gallery is the known-faces screen. It fetches on demand; the UI refreshes
// whenever the page becomes visible again.
type Gallery struct {
	dir StudentDirectory
}

func NewGallery(dir StudentDirectory) *Gallery {
	return &Gallery{dir: dir}
}

func (g *Gallery) Students(ctx context.Context) ([]models.Student, error) {
	list, err := g.dir.Students(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	if list == nil {
		list = []models.Student{}
	}
	return list, nil
}

func (g *Gallery) Delete(ctx context.Context, studentID string) error {
	if strings.TrimSpace(studentID) == "" {
		return fmt.Errorf("student id: %w", models.ErrNotFound)
	}
	if err := g.dir.DeleteStudent(ctx, studentID); err != nil {
		return fmt.Errorf("deleting student %s: %w", studentID, err)
	}
	log.Printf("gallery: deleted student %s", studentID)
	return nil
}

// Photo returns a stored JPEG. Names are single path elements.
func (g *Gallery) Photo(ctx context.Context, photoName string) ([]byte, error) {
	if photoName == "" || photoName != path.Base(photoName) || photoName == "." || photoName == ".." {
		return nil, ErrInvalidPhotoName
	}
	data, err := g.dir.StudentPhoto(ctx, photoName)
	if err != nil {
		return nil, fmt.Errorf("fetching photo %s: %w", photoName, err)
	}
	return data, nil
}
