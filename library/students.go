package library

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const studentsPath = "/students"

// Sort orders accepted by the students endpoint.
const (
	SortByIDAsc   = "id,asc"
	SortByNameAsc = "name,asc"
)

// ListParams selects one page of the student list.
type ListParams struct {
	Page       int
	Size       int
	Sort       string
	NameFilter string
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	size := p.Size
	if size <= 0 {
		size = 5
	}
	q.Set("size", strconv.Itoa(size))
	sort := p.Sort
	if sort == "" {
		sort = SortByIDAsc
	}
	q.Set("sort", sort)
	if p.NameFilter != "" {
		q.Set("nameFilter", p.NameFilter)
	}
	return q
}

// StudentService is the REST client for the students collection.
type StudentService struct {
	client *HTTPClient
}

func NewStudentService(client *HTTPClient) *StudentService {
	return &StudentService{client: client}
}

// List fetches one page of students.
func (s *StudentService) List(ctx context.Context, params ListParams) (*Page[Student], error) {
	var page Page[Student]
	if err := s.client.Do(ctx, http.MethodGet, studentsPath, params.query(), nil, &page); err != nil {
		return nil, wrapError("listStudents", err)
	}
	return &page, nil
}

func (s *StudentService) Get(ctx context.Context, id ID) (*Student, error) {
	var student Student
	if err := s.client.Do(ctx, http.MethodGet, studentPath(id), nil, nil, &student); err != nil {
		return nil, wrapError("getStudent", err)
	}
	return &student, nil
}

// Create posts a new student and returns it with its server-assigned id.
func (s *StudentService) Create(ctx context.Context, student Student) (*Student, error) {
	student.ID = 0
	var created Student
	if err := s.client.Do(ctx, http.MethodPost, studentsPath, nil, student, &created); err != nil {
		return nil, wrapError("createStudent", err)
	}
	return &created, nil
}

func (s *StudentService) Update(ctx context.Context, id ID, student Student) (*Student, error) {
	student.ID = id
	var updated Student
	if err := s.client.Do(ctx, http.MethodPut, studentPath(id), nil, student, &updated); err != nil {
		return nil, wrapError("updateStudent", err)
	}
	return &updated, nil
}

func (s *StudentService) Delete(ctx context.Context, id ID) error {
	return wrapError("deleteStudent", s.client.Do(ctx, http.MethodDelete, studentPath(id), nil, nil, nil))
}

func studentPath(id ID) string {
	return studentsPath + "/" + id.String()
}
