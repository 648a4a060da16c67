package tasksapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
)

// pageSize is the largest page the tasks service returns.
const pageSize = 100

// TaskList is one list owned by the signed-in user.
type TaskList struct {
	Kind     string `json:"kind,omitempty"`
	ID       string `json:"id"`
	Etag     string `json:"etag,omitempty"`
	Title    string `json:"title"`
	Updated  string `json:"updated,omitempty"`
	SelfLink string `json:"selfLink,omitempty"`
}

// NewTask is the body of a task insert. Due must already be normalized.
type NewTask struct {
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
	Due   string `json:"due,omitempty"`
}

type ListTasksOptions struct {
	ShowCompleted bool
	ShowHidden    bool
	ShowDeleted   bool
}

type taskListsPage struct {
	Items         []TaskList `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

type tasksPage struct {
	Items         []taskdoc.Record `json:"items"`
	NextPageToken string           `json:"nextPageToken"`
}

func (c *HTTPClient) ListTaskLists(ctx context.Context) ([]TaskList, error) {
	var lists []TaskList
	pageToken := ""
	for {
		query := url.Values{"maxResults": {strconv.Itoa(pageSize)}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page taskListsPage
		if err := c.doJSON(ctx, http.MethodGet, "/tasks/v1/users/@me/lists?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}
		lists = append(lists, page.Items...)
		if page.NextPageToken == "" {
			return lists, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *HTTPClient) InsertTaskList(ctx context.Context, title string) (TaskList, error) {
	var out TaskList
	if strings.TrimSpace(title) == "" {
		return out, fmt.Errorf("%w: task list title is required", taskdoc.ErrInvalidInput)
	}
	err := c.doJSON(ctx, http.MethodPost, "/tasks/v1/users/@me/lists", map[string]string{"title": title}, &out)
	return out, err
}

func (c *HTTPClient) DeleteTaskList(ctx context.Context, listID string) error {
	return c.doJSON(ctx, http.MethodDelete, taskListPath(listID), nil, nil)
}

// ListTasks returns every task of a list in service order, following
// pagination.
func (c *HTTPClient) ListTasks(ctx context.Context, listID string, opts ListTasksOptions) ([]taskdoc.Record, error) {
	var tasks []taskdoc.Record
	pageToken := ""
	for {
		query := url.Values{
			"maxResults":    {strconv.Itoa(pageSize)},
			"showCompleted": {strconv.FormatBool(opts.ShowCompleted)},
			"showHidden":    {strconv.FormatBool(opts.ShowHidden)},
			"showDeleted":   {strconv.FormatBool(opts.ShowDeleted)},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page tasksPage
		if err := c.doJSON(ctx, http.MethodGet, tasksPath(listID)+"?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}
		tasks = append(tasks, page.Items...)
		if page.NextPageToken == "" {
			return tasks, nil
		}
		pageToken = page.NextPageToken
	}
}

// InsertTask creates a task at the top of listID, or as the first subtask
// of parent when parent is set.
func (c *HTTPClient) InsertTask(ctx context.Context, listID string, task NewTask, parent string) (taskdoc.Record, error) {
	var out taskdoc.Record
	if strings.TrimSpace(task.Title) == "" {
		return out, fmt.Errorf("%w: task title is required", taskdoc.ErrInvalidInput)
	}
	requestPath := tasksPath(listID)
	if parent != "" {
		requestPath += "?" + url.Values{"parent": {parent}}.Encode()
	}
	err := c.doJSON(ctx, http.MethodPost, requestPath, task, &out)
	return out, err
}

func taskListPath(listID string) string {
	return "/tasks/v1/users/@me/lists/" + url.PathEscape(listID)
}

func tasksPath(listID string) string {
	return "/tasks/v1/lists/" + url.PathEscape(listID) + "/tasks"
}
