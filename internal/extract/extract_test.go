package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bombe/pkg/types"
)

func symbolByName(symbols []types.SymbolRecord, name string) *types.SymbolRecord {
	for i := range symbols {
		if symbols[i].Name == name {
			return &symbols[i]
		}
	}
	return nil
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "pkg.auth.service", moduleName("pkg/auth/service.py"))
	assert.Equal(t, "main", moduleName("main.go"))
	assert.Equal(t, "src.index", moduleName("src/index.ts"))
}

func TestExtractPythonSymbols(t *testing.T) {
	source := []byte(`"""Module docs."""

MAX_RETRIES = 3

def login(username, password="x"):
    """Authenticate a user."""
    return authenticate(username, password)

class Session:
    def refresh(self):
        self.validate()

    @staticmethod
    def of(token):
        return Session()

async def poll():
    pass
`)
	e := New()
	out := e.Extract(source, types.LangPython, "auth/session.py")
	require.NotEmpty(t, out.Symbols)

	login := symbolByName(out.Symbols, "login")
	require.NotNil(t, login)
	assert.Equal(t, types.KindFunction, login.Kind)
	assert.Equal(t, "auth.session.login", login.QualifiedName)
	assert.Equal(t, "Authenticate a user.", login.Docstring)
	require.Len(t, login.Parameters, 2)
	assert.Equal(t, "password", login.Parameters[1].Name)
	assert.Equal(t, `"x"`, login.Parameters[1].DefaultValue)

	session := symbolByName(out.Symbols, "Session")
	require.NotNil(t, session)
	assert.Equal(t, types.KindClass, session.Kind)

	refresh := symbolByName(out.Symbols, "refresh")
	require.NotNil(t, refresh)
	assert.Equal(t, types.KindMethod, refresh.Kind)
	assert.Equal(t, "auth.session.Session", refresh.ParentQualifiedName)

	of := symbolByName(out.Symbols, "of")
	require.NotNil(t, of)
	assert.True(t, of.IsStatic)

	poll := symbolByName(out.Symbols, "poll")
	require.NotNil(t, poll)
	assert.True(t, poll.IsAsync)

	constant := symbolByName(out.Symbols, "MAX_RETRIES")
	require.NotNil(t, constant)
	assert.Equal(t, types.KindConstant, constant.Kind)
}

func TestExtractPythonImportsAndCalls(t *testing.T) {
	source := []byte(`import os
from auth.tokens import issue, revoke as drop

def main():
    issue()
    client.connect()
`)
	e := New()
	out := e.Extract(source, types.LangPython, "app.py")

	require.Len(t, out.Imports, 2)
	assert.Equal(t, "os", out.Imports[0].ModuleName)
	assert.Equal(t, "auth.tokens", out.Imports[1].ModuleName)
	assert.Contains(t, out.Imports[1].ImportedNames, "issue")

	var callees []string
	for _, site := range out.CallSites {
		callees = append(callees, site.CalleeName)
	}
	assert.Contains(t, callees, "issue")
	assert.Contains(t, callees, "connect")
	for _, site := range out.CallSites {
		if site.CalleeName == "connect" {
			assert.Equal(t, "client", site.ReceiverName)
		}
	}
}

func TestExtractPythonInheritance(t *testing.T) {
	source := []byte(`class Animal:
    pass

class Dog(Animal):
    pass
`)
	e := New()
	out := e.Extract(source, types.LangPython, "zoo.py")
	require.Len(t, out.TypeRefs, 1)
	assert.Equal(t, "zoo.Dog", out.TypeRefs[0].SubtypeQualifiedName)
	assert.Equal(t, "Animal", out.TypeRefs[0].SupertypeName)
	assert.Equal(t, types.RelExtends, out.TypeRefs[0].Relationship)
}

func TestExtractTypeScript(t *testing.T) {
	source := []byte(`import { Logger } from "./logger";

export const DEFAULT_LIMIT = 10;

export interface Store {
  get(key: string): string;
}

export class MemoryStore implements Store {
  private data: Map<string, string>;

  get(key: string): string {
    return this.data.get(key);
  }
}

export async function load(store: Store): Promise<void> {
  store.get("x");
}
`)
	e := New()
	out := e.Extract(source, types.LangTypeScript, "src/store.ts")

	iface := symbolByName(out.Symbols, "Store")
	require.NotNil(t, iface)
	assert.Equal(t, types.KindInterface, iface.Kind)

	cls := symbolByName(out.Symbols, "MemoryStore")
	require.NotNil(t, cls)
	assert.Equal(t, types.KindClass, cls.Kind)

	method := symbolByName(out.Symbols, "get")
	require.NotNil(t, method)
	assert.Equal(t, types.KindMethod, method.Kind)
	assert.Equal(t, "src.store.MemoryStore", method.ParentQualifiedName)

	load := symbolByName(out.Symbols, "load")
	require.NotNil(t, load)
	assert.True(t, load.IsAsync)

	constant := symbolByName(out.Symbols, "DEFAULT_LIMIT")
	require.NotNil(t, constant)
	assert.Equal(t, types.KindConstant, constant.Kind)

	require.NotEmpty(t, out.TypeRefs)
	assert.Equal(t, types.RelImplements, out.TypeRefs[0].Relationship)
	assert.Equal(t, "Store", out.TypeRefs[0].SupertypeName)

	require.Len(t, out.Imports, 1)
	assert.Equal(t, "./logger", out.Imports[0].ModuleName)
	assert.Contains(t, out.Imports[0].ImportedNames, "Logger")
}

func TestExtractJava(t *testing.T) {
	source := []byte(`package com.example.auth;

import java.util.List;
import com.example.core.Validator;

public class SessionManager extends BaseManager implements Closeable {
    public static final int MAX_SESSIONS = 100;

    private List<String> sessions;

    public void refresh(String token) {
        validator.check(token);
    }
}
`)
	e := New()
	out := e.Extract(source, types.LangJava, "src/com/example/auth/SessionManager.java")

	cls := symbolByName(out.Symbols, "SessionManager")
	require.NotNil(t, cls)
	assert.Equal(t, types.KindClass, cls.Kind)
	assert.Equal(t, "com.example.auth.SessionManager", cls.QualifiedName)

	method := symbolByName(out.Symbols, "refresh")
	require.NotNil(t, method)
	assert.Equal(t, types.KindMethod, method.Kind)
	assert.Equal(t, "public", method.Visibility)
	require.Len(t, method.Parameters, 1)
	assert.Equal(t, "token", method.Parameters[0].Name)
	assert.Equal(t, "String", method.Parameters[0].Type)

	constant := symbolByName(out.Symbols, "MAX_SESSIONS")
	require.NotNil(t, constant)
	assert.Equal(t, types.KindConstant, constant.Kind)

	rels := map[string]string{}
	for _, ref := range out.TypeRefs {
		rels[ref.SupertypeName] = ref.Relationship
	}
	assert.Equal(t, types.RelExtends, rels["BaseManager"])
	assert.Equal(t, types.RelImplements, rels["Closeable"])

	require.Len(t, out.Imports, 2)
	assert.Contains(t, out.Imports[1].ImportedNames, "Validator")
}

func TestExtractGo(t *testing.T) {
	source := []byte(`package auth

import (
	"fmt"

	"example.com/app/internal/tokens"
)

const MaxSessions = 100

type Store interface {
	Get(key string) string
}

type Manager struct {
	BaseManager
}

func (m *Manager) Refresh(token string) error {
	return tokens.Validate(token)
}

func NewManager() *Manager {
	return &Manager{}
}
`)
	e := New()
	out := e.Extract(source, types.LangGo, "internal/auth/manager.go")

	iface := symbolByName(out.Symbols, "Store")
	require.NotNil(t, iface)
	assert.Equal(t, types.KindInterface, iface.Kind)

	manager := symbolByName(out.Symbols, "Manager")
	require.NotNil(t, manager)
	assert.Equal(t, types.KindClass, manager.Kind)

	refresh := symbolByName(out.Symbols, "Refresh")
	require.NotNil(t, refresh)
	assert.Equal(t, types.KindMethod, refresh.Kind)
	assert.Equal(t, "internal.auth.manager.Manager", refresh.ParentQualifiedName)
	assert.Equal(t, "public", refresh.Visibility)

	constant := symbolByName(out.Symbols, "MaxSessions")
	require.NotNil(t, constant)
	assert.Equal(t, types.KindConstant, constant.Kind)

	// Embedded BaseManager becomes EXTENDS.
	require.NotEmpty(t, out.TypeRefs)
	assert.Equal(t, "BaseManager", out.TypeRefs[0].SupertypeName)

	require.Len(t, out.Imports, 2)
	assert.Equal(t, "example.com/app/internal/tokens", out.Imports[1].ModuleName)

	var callees []string
	for _, site := range out.CallSites {
		callees = append(callees, site.CalleeName)
	}
	assert.Contains(t, callees, "Validate")
}

func TestExtractUnknownLanguage(t *testing.T) {
	e := New()
	out := e.Extract([]byte("hello"), "ruby", "script.rb")
	assert.Empty(t, out.Symbols)
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, "parse", out.Diagnostics[0].Stage)
	assert.Equal(t, "error", out.Diagnostics[0].Severity)
}

func TestExtractSyntaxErrorIsNonFatal(t *testing.T) {
	e := New()
	out := e.Extract([]byte("def broken(:\n    pass\n\ndef ok():\n    pass\n"), types.LangPython, "broken.py")
	// The parse diagnostic is present but extraction still proceeds.
	require.NotEmpty(t, out.Diagnostics)
	assert.Equal(t, "parse", out.Diagnostics[0].Stage)
}

func TestSplitParameters(t *testing.T) {
	goParams := splitParameters("ctx context.Context, limit int", types.LangGo)
	require.Len(t, goParams, 2)
	assert.Equal(t, "ctx", goParams[0].Name)
	assert.Equal(t, "context.Context", goParams[0].Type)

	tsParams := splitParameters("key: string, opts: Map<string, number>", types.LangTypeScript)
	require.Len(t, tsParams, 2)
	assert.Equal(t, "opts", tsParams[1].Name)

	javaParams := splitParameters("final String token, int count", types.LangJava)
	require.Len(t, javaParams, 2)
	assert.Equal(t, "token", javaParams[0].Name)
}
