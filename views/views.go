// Package views holds the default page templates. They are plain
// html/template files embedded in the binary and exposed as templ
// components through privateblog.ViewFuncs.
package views

import (
	"context"
	"embed"
	"html/template"
	"io"

	"github.com/a-h/templ"

	"github.com/eringen/privateblog"
)

//go:embed templates/*.html
var files embed.FS

var (
	indexTmpl = parse("index.html")
	postTmpl  = parse("post.html")
	loginTmpl = parse("login.html")
	newTmpl   = parse("new.html")
	errorTmpl = parse("error.html")
)

func parse(name string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).ParseFS(files, "templates/layout.html", "templates/"+name))
}

func component(t *template.Template, data page) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return t.ExecuteTemplate(w, "layout", data)
	})
}

// New returns the default views for a site called siteName.
func New(siteName string) privateblog.ViewFuncs {
	return privateblog.ViewFuncs{
		Index: func(posts []privateblog.PostSummary) templ.Component {
			return component(indexTmpl, page{Site: siteName, Nav: true, Posts: posts})
		},
		Post: func(post privateblog.Post) templ.Component {
			return component(postTmpl, page{Site: siteName, Title: post.Title, Nav: true, Post: post})
		},
		Login: func(errMsg, csrfToken string) templ.Component {
			return component(loginTmpl, page{Site: siteName, Title: "Log in", Error: errMsg, CSRFToken: csrfToken})
		},
		NewPost: func(form privateblog.PostForm, errMsg, csrfToken string) templ.Component {
			return component(newTmpl, page{Site: siteName, Title: "New post", Nav: true, Form: form, Error: errMsg, CSRFToken: csrfToken})
		},
		NotFound: func() templ.Component {
			return component(errorTmpl, page{Site: siteName, Title: "Not found", Error: "There is no post at this address."})
		},
		ServerError: func() templ.Component {
			return component(errorTmpl, page{Site: siteName, Title: "Something went wrong", Error: "The page could not be rendered. Try again in a moment."})
		},
	}
}
