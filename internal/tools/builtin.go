package tools

import (
	"context"
	"fmt"
	"strings"
)

// KnowledgeBase 是知识库检索工具所需的最小能力。
type KnowledgeBase interface {
	BestMatch(query string) (answer string, similarity float64, ok bool)
}

// Weather 是天气工具的返回结构。
type Weather struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	Condition   string `json:"condition"`
	Humidity    string `json:"humidity"`
	WindSpeed   string `json:"wind_speed"`
}

// DeveloperInfoTool 返回应用开发者信息的工具。
func DeveloperInfoTool(name, description string) Tool {
	return Tool{
		Name:        "get_developer_info",
		Description: "Returns information about the developer of this application. Use this whenever the user asks who made, built, or developed the app.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]string{
				"developer":   name,
				"description": description,
			}, nil
		},
	}
}

// WeatherTool 返回演示用的固定天气数据。
func WeatherTool() Tool {
	return Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a given location. Use this tool when the user asks for weather information for any city (e.g., Tokyo).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The city and state, e.g. San Francisco, CA or Tokyo",
				},
			},
			"required": []string{"location"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			if strings.TrimSpace(location) == "" {
				return nil, fmt.Errorf("location is required")
			}
			return LookupWeather(location), nil
		},
	}
}

// LookupWeather 返回某地点的演示天气。
func LookupWeather(location string) Weather {
	loc := strings.ToLower(location)
	if strings.Contains(loc, "tokyo") || strings.Contains(loc, "tokio") {
		return Weather{
			Location:    "Tokyo, Japan",
			Temperature: "11°C",
			Condition:   "Cloudy",
			Humidity:    "45%",
			WindSpeed:   "12 km/h",
		}
	}
	return Weather{
		Location:    location,
		Temperature: "25°C",
		Condition:   "Sunny",
		Humidity:    "60%",
		WindSpeed:   "10 km/h",
	}
}

// KnowledgeBaseTool 在静态知识库中检索与问题最相近的答案。
func KnowledgeBaseTool(kb KnowledgeBase) Tool {
	return Tool{
		Name:        "search_knowledge_base",
		Description: "Search the application's knowledge base for an answer to a question about this project (secret code, tech stack, dark mode, semantic search, capabilities).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The user's question",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			answer, similarity, ok := kb.BestMatch(query)
			if !ok {
				return map[string]any{"result": nil, "similarity": 0}, nil
			}
			return map[string]any{"result": answer, "similarity": similarity}, nil
		},
	}
}

// DefaultTools 返回应用内置的工具集合；kb 为 nil 时不注册知识库检索。
func DefaultTools(developerName, developerDescription string, kb KnowledgeBase) []Tool {
	list := []Tool{
		DeveloperInfoTool(developerName, developerDescription),
		WeatherTool(),
	}
	if kb != nil {
		list = append(list, KnowledgeBaseTool(kb))
	}
	return list
}
