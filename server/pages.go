package server

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"zendesk-prioritizer/background"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/ticketlist"
)

type popupPage struct {
	List    ticketlist.List
	Picker  ticketlist.Picker
	Domain  string
	Error   string
	Updated string
	Empty   string
	Problem string
	Loading bool
	Failed  bool
}

type optionsView struct {
	Title    string
	ID       int64
	Filtered bool
	Notify   bool
}

type optionsPage struct {
	Settings  settings.Settings
	Views     []optionsView
	Error     string
	Message   string
	UserID    string
	ViewID    string
	MaxNotify int
}

func (s *Server) state(ctx context.Context) background.State {
	resp := s.dispatcher.Handle(ctx, background.Message{Type: background.GetState})
	state, ok := resp.Data.(background.State)
	if !ok {
		s.logger.Warn("State unavailable", "error", resp.Error)
	}
	return state
}

// views lists the account's views. A missing domain is not an error here: the
// pages simply have nothing to offer.
func (s *Server) views(ctx context.Context, st settings.Settings) ([]*prioritizer.View, string) {
	if st.ZendeskDomain == "" {
		return nil, ""
	}
	resp := s.dispatcher.Handle(ctx, background.Message{Type: background.ListViews})
	if !resp.OK {
		return nil, resp.Error
	}
	data, _ := resp.Data.(map[string]any)
	views, _ := data["views"].([]*prioritizer.View)
	return views, ""
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allow(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	st := s.state(ctx)
	views, viewErr := s.views(ctx, st.Settings)

	page := popupPage{
		List:    ticketlist.Build(st.Model, s.now()),
		Picker:  ticketlist.FilterViews(views, st.Settings),
		Domain:  st.Settings.ZendeskDomain,
		Error:   viewErr,
		Empty:   ticketlist.EmptyMessage,
		Loading: st.Model.CurrentlyMakingRequest,
		Failed:  st.Model.ErrorState,
		Problem: st.Model.LastError,
	}
	if st.Model.LastUpdated != nil {
		page.Updated = st.Model.LastUpdated.Local().Format("15:04:05")
	}
	s.render(w, "popup.tmpl", page)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := optionsPage{MaxNotify: settings.MaxNotifyViews}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("saved") != "" {
			page.Message = "Options saved."
		}
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}
		u := formUpdate(r.PostForm, s.state(ctx).Settings)
		resp := s.dispatcher.Handle(ctx, background.Message{Type: background.SetSettings, Settings: u})
		if resp.OK {
			http.Redirect(w, r, "/options?saved=1", http.StatusSeeOther)
			return
		}
		page.Error = resp.Error
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.state(ctx).Settings
	page.Settings = st
	if st.UserID != nil {
		page.UserID = strconv.FormatInt(*st.UserID, 10)
	}
	if st.ViewID != nil {
		page.ViewID = strconv.FormatInt(*st.ViewID, 10)
	}

	views, viewErr := s.views(ctx, st)
	if page.Error == "" {
		page.Error = viewErr
	}
	for _, v := range views {
		if v == nil || !v.IsActive() {
			continue
		}
		title := v.Title
		if title == "" {
			title = strconv.FormatInt(v.ID, 10)
		}
		page.Views = append(page.Views, optionsView{
			Title:    title,
			ID:       v.ID,
			Filtered: slices.Contains(st.ViewFilterIDs, v.ID),
			Notify:   slices.Contains(st.NotifyViewIDs, v.ID),
		})
	}
	s.render(w, "options.tmpl", page)
}

// formUpdate reads the options form. The view lists are only replaced when
// the form showed them; only the first MaxNotifyViews notify views are kept.
func formUpdate(form url.Values, prev settings.Settings) *settings.Update {
	u := &settings.Update{
		ZendeskDomain: form.Get("zendeskDomain"),
		UserID:        settings.ParseID(form.Get("userID")),
		ViewID:        settings.ParseID(form.Get("viewID")),
		PollInterval:  settings.ParseID(form.Get("pollInterval")),
		NotifyViewIDs: settings.IDs(prev.NotifyViewIDs...),
	}
	if form.Has("views") {
		u.ViewFilterIDs = settings.ParseIDs(form["viewFilterIds"])
		u.NotifyViewIDs = settings.ParseIDs(form["notifyViewIds"])
	}
	if len(u.NotifyViewIDs.IDs) > settings.MaxNotifyViews {
		u.NotifyViewIDs.IDs = u.NotifyViewIDs.IDs[:settings.MaxNotifyViews]
	}
	return u
}

// act runs a form-posted message and returns to the popup.
func (s *Server) act(w http.ResponseWriter, r *http.Request, msg background.Message) {
	resp := s.dispatcher.Handle(r.Context(), msg)
	if !resp.OK {
		s.logger.Warn("Action failed", "type", msg.Type, "error", resp.Error)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) postForm(w http.ResponseWriter, r *http.Request) bool {
	if !allow(w, r, http.MethodPost) {
		return false
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.postForm(w, r) {
		return
	}
	s.act(w, r, background.Message{Type: background.RefreshTickets})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	if !s.postForm(w, r) {
		return
	}
	s.act(w, r, background.Message{Type: background.ToggleStar, TicketID: settings.ParseID(r.PostForm.Get("ticketId"))})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if !s.postForm(w, r) {
		return
	}
	s.act(w, r, background.Message{
		Type:     background.LaunchLink,
		ObjectID: settings.ParseID(r.PostForm.Get("objectID")),
		IsView:   r.PostForm.Get("isView") == "true",
	})
}

// handleView switches the current view and reloads it.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if !s.postForm(w, r) {
		return
	}
	ctx := r.Context()
	u := settings.UpdateFrom(s.state(ctx).Settings)
	u.ViewID = settings.ParseID(r.PostForm.Get("viewID"))

	resp := s.dispatcher.Handle(ctx, background.Message{Type: background.SetSettings, Settings: &u})
	if !resp.OK {
		s.logger.Warn("View change failed", "error", resp.Error)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.act(w, r, background.Message{Type: background.RefreshTickets})
}
