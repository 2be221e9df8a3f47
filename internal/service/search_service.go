package service

import (
	"sort"
	"strings"
	"unicode/utf8"
	"voxchat-go/pkg/log"

	"github.com/agnivade/levenshtein"
)

const (
	// searchTopK 是检索接口返回的候选数量。
	searchTopK = 3
	// minToolSimilarity 是工具检索认为命中的最低相似度。
	minToolSimilarity = 0.4
	// NoAnswer 是知识库为空时的默认回答。
	NoAnswer = "No encontré una respuesta relevante."
)

// KnowledgeItem 是一条知识：若干问法对应同一个答案。
type KnowledgeItem struct {
	Questions []string
	Answer    string
}

// ScoredAnswer 是带相似度的候选答案。
type ScoredAnswer struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// SearchResult 是知识库检索的返回结构。
type SearchResult struct {
	Query      string         `json:"query"`
	Result     string         `json:"result"`
	Similarity float64        `json:"similarity"`
	AllResults []ScoredAnswer `json:"all_results"`
}

// SearchService 在静态知识库中按字符串相似度检索答案。
type SearchService interface {
	Search(query string) SearchResult
	BestMatch(query string) (answer string, similarity float64, ok bool)
}

type searchService struct {
	items []KnowledgeItem
}

// NewSearchService 创建一个新的 SearchService 实例；items 为空时使用内置知识库。
func NewSearchService(items []KnowledgeItem) SearchService {
	if items == nil {
		items = DefaultKnowledgeBase()
	}
	return &searchService{items: items}
}

// Search 对每条知识取其所有问法中的最高相似度，按相似度倒序返回前三条。
func (s *searchService) Search(query string) SearchResult {
	normalized := strings.ToLower(strings.TrimSpace(query))

	scored := make([]ScoredAnswer, 0, len(s.items))
	for _, item := range s.items {
		best := 0.0
		for _, q := range item.Questions {
			if r := similarity(normalized, strings.ToLower(q)); r > best {
				best = r
			}
		}
		scored = append(scored, ScoredAnswer{Text: item.Answer, Similarity: best})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > searchTopK {
		scored = scored[:searchTopK]
	}

	if len(scored) == 0 {
		return SearchResult{Query: query, Result: NoAnswer, AllResults: []ScoredAnswer{}}
	}
	log.Debugf("[SearchService] query: '%s', 最佳相似度: %.3f", normalized, scored[0].Similarity)
	return SearchResult{
		Query:      query,
		Result:     scored[0].Text,
		Similarity: scored[0].Similarity,
		AllResults: scored,
	}
}

// BestMatch 实现 tools.KnowledgeBase，相似度过低时视为未命中。
func (s *searchService) BestMatch(query string) (string, float64, bool) {
	res := s.Search(query)
	if len(res.AllResults) == 0 || res.Similarity < minToolSimilarity {
		return "", res.Similarity, false
	}
	return res.Result, res.Similarity, true
}

// similarity 返回基于编辑距离的归一化相似度，取值 [0, 1]。
func similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// DefaultKnowledgeBase 返回内置的演示知识库。
func DefaultKnowledgeBase() []KnowledgeItem {
	return []KnowledgeItem{
		{
			Questions: []string{
				"¿Cuál es el código secreto?",
				"cuál es el código secreto",
				"cual es el codigo secreto",
				"dame el codigo",
				"codigo de acceso",
			},
			Answer: "El código secreto es: 42-ALPHA-TANGO. ¡No se lo digas a nadie!",
		},
		{
			Questions: []string{
				"¿Qué tecnologías usa este proyecto?",
				"qué tecnologías usa este proyecto",
				"que tecnologias usa este proyecto",
				"stack tecnologico",
				"que framework usas",
			},
			Answer: "Este proyecto utiliza un stack moderno: React + Vite + TypeScript en el frontend, y Go con Gin en el backend. Usamos MySQL y Redis para persistencia, MinIO para los audios y un modelo compatible con OpenAI para la inteligencia.",
		},
		{
			Questions: []string{
				"¿Soporta modo oscuro?",
				"soporta modo oscuro",
				"tiene dark mode",
				"cambiar tema",
			},
			Answer: "¡Sí! El soporte para modo oscuro está totalmente integrado. El diseño utiliza variables CSS que se adaptan automáticamente a la preferencia de tu sistema.",
		},
		{
			Questions: []string{
				"¿Cómo funciona la búsqueda semántica?",
				"cómo funciona la búsqueda semántica",
				"como funciona la busqueda semantica",
				"explicame la busqueda",
			},
			Answer: "La búsqueda semántica analiza el significado de tu pregunta en lugar de solo buscar palabras clave exactas. En esta demo, comparamos tu pregunta con nuestra base de conocimiento usando algoritmos de similitud de texto (fuzzy matching) para encontrar la mejor respuesta incluso con pequeños errores tipográficos.",
		},
		{
			Questions: []string{
				"quien te creo",
				"quien es tu desarrollador",
				"who created you",
				"who is your developer",
				"autor",
			},
			Answer: "Aitor es el desarrollador Full-Stack detrás de este proyecto, especializado en crear experiencias de IA conversacional con voz.",
		},
		{
			Questions: []string{
				"que puedes hacer",
				"cuales son tus funciones",
				"what can you do",
				"capabilities",
			},
			Answer: "Puedo mantener conversaciones contextuales, responder preguntas sobre mi configuración, buscar información en mi base de conocimientos y consultar el clima.",
		},
	}
}
